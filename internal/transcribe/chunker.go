package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/audio"
	"github.com/snarg/voxarchive/internal/metrics"
)

// DefaultChunkSeconds is the segment length used when none is configured.
const DefaultChunkSeconds = 10.0

// Chunk is one fixed-duration slice of a WAV file.
type Chunk struct {
	Index    int // 1-based
	Frames   int
	Duration time.Duration
	Path     string
}

// Chunker transcribes long WAV audio one segment at a time.
type Chunker struct {
	backend Backend
	seconds float64
	tempDir string
	log     zerolog.Logger
}

func NewChunker(backend Backend, segmentSeconds float64, log zerolog.Logger) *Chunker {
	if segmentSeconds <= 0 {
		segmentSeconds = DefaultChunkSeconds
	}
	return &Chunker{backend: backend, seconds: segmentSeconds, log: log}
}

// SegmentDuration is the length of one chunk.
func (c *Chunker) SegmentDuration() time.Duration {
	return time.Duration(c.seconds * float64(time.Second))
}

// TranscribeLong transcribes audioPath. WAV input is cut into segments that
// are submitted strictly in order; a failed segment is logged and left out.
// Other containers go to the backend in one call. ErrNoSpeech is returned
// when nothing was recognized.
func (c *Chunker) TranscribeLong(ctx context.Context, audioPath string) (string, error) {
	if !audio.IsWAV(audioPath) {
		resp, err := c.backend.Transcribe(ctx, audioPath)
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return "", ErrNoSpeech
		}
		return text, nil
	}

	r, err := audio.OpenWAV(audioPath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	info := r.Info
	framesPerSegment := int(math.Round(c.seconds * float64(info.SampleRate)))
	if framesPerSegment <= 0 {
		return "", fmt.Errorf("%w: %v s segments at %d Hz", ErrInvalidAudioParameters, c.seconds, info.SampleRate)
	}

	c.log.Info().
		Str("file", audioPath).
		Dur("duration", info.Duration()).
		Int("frames_per_segment", framesPerSegment).
		Int64("segments", (info.Frames+int64(framesPerSegment)-1)/int64(framesPerSegment)).
		Msg("chunked transcription starting")

	var texts []string
	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		buf, err := r.ReadFrames(framesPerSegment)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment %d: %w", index, err)
		}

		frames := len(buf.Data) / info.Channels
		chunk := Chunk{
			Index:    index,
			Frames:   frames,
			Duration: time.Duration(float64(frames) / float64(info.SampleRate) * float64(time.Second)),
		}

		text, err := c.transcribeChunk(ctx, &chunk, buf, info.BitDepth)
		switch {
		case err != nil && ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			metrics.ChunksTotal.WithLabelValues("failed").Inc()
			c.log.Warn().Err(err).Int("chunk", chunk.Index).Int("frames", chunk.Frames).Msg("chunk transcription failed")
		case text == "":
			metrics.ChunksTotal.WithLabelValues("empty").Inc()
			c.log.Debug().Int("chunk", chunk.Index).Msg("chunk produced no text")
		default:
			metrics.ChunksTotal.WithLabelValues("ok").Inc()
			c.log.Debug().Int("chunk", chunk.Index).Int("frames", chunk.Frames).Int("text_len", len(text)).Msg("chunk transcribed")
			texts = append(texts, text)
		}
	}

	joined := strings.TrimSpace(strings.Join(texts, "\n"))
	if joined == "" {
		return "", ErrNoSpeech
	}
	return joined, nil
}

// transcribeChunk writes the segment to a temporary WAV, submits it and
// removes the file whatever the outcome.
func (c *Chunker) transcribeChunk(ctx context.Context, chunk *Chunk, buf *goaudio.IntBuffer, bitDepth int) (string, error) {
	f, err := os.CreateTemp(c.tempDir, fmt.Sprintf("voxarchive-chunk%d-*.wav", chunk.Index))
	if err != nil {
		return "", fmt.Errorf("create chunk file: %w", err)
	}
	chunk.Path = f.Name()
	f.Close()
	defer os.Remove(chunk.Path)

	if err := audio.WriteWAV(chunk.Path, buf, bitDepth); err != nil {
		return "", err
	}

	resp, err := c.backend.Transcribe(ctx, chunk.Path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
