package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	// ErrInvalidAudioParameters reports a WAV header that cannot be cut
	// into segments: zero sample rate, zero bytes per frame or no frames.
	ErrInvalidAudioParameters = errors.New("invalid audio parameters")
	ErrInvalidWAV             = errors.New("invalid wav file")
)

// WAVInfo describes a PCM WAV stream.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int64
}

func (i WAVInfo) BytesPerFrame() int {
	return i.Channels * (i.BitDepth / 8)
}

func (i WAVInfo) Duration() time.Duration {
	if i.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(i.Frames) / float64(i.SampleRate) * float64(time.Second))
}

func (i WAVInfo) validateFormat() error {
	switch {
	case i.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidAudioParameters, i.SampleRate)
	case i.BytesPerFrame() <= 0:
		return fmt.Errorf("%w: %d channels at %d bits", ErrInvalidAudioParameters, i.Channels, i.BitDepth)
	}
	return nil
}

func (i WAVInfo) validate() error {
	if err := i.validateFormat(); err != nil {
		return err
	}
	if i.Frames <= 0 {
		return fmt.Errorf("%w: no frames", ErrInvalidAudioParameters)
	}
	return nil
}

// IsWAV reports whether path names a RIFF/WAVE file, by extension first and
// by header otherwise.
func IsWAV(path string) bool {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header[:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE"))
}

// WAVReader reads PCM frames from a WAV file in order.
type WAVReader struct {
	f    *os.File
	dec  *wav.Decoder
	Info WAVInfo
	read int64
}

// OpenWAV opens path and positions the reader at the first PCM frame.
// Headers that describe no usable audio yield ErrInvalidAudioParameters.
func OpenWAV(path string) (*WAVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}

	// The fmt chunk is checked before seeking to the data chunk: the
	// decoder re-reads headers while NumChans is zero.
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	info := WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if err := info.validateFormat(); err != nil {
		f.Close()
		return nil, err
	}

	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	info.Frames = dec.PCMLen() / int64(info.BytesPerFrame())
	if err := info.validate(); err != nil {
		f.Close()
		return nil, err
	}

	return &WAVReader{f: f, dec: dec, Info: info}, nil
}

// ReadWAVInfo returns the header of a WAV file after validating it.
func ReadWAVInfo(path string) (WAVInfo, error) {
	r, err := OpenWAV(path)
	if err != nil {
		return WAVInfo{}, err
	}
	defer r.Close()
	return r.Info, nil
}

// ReadFrames returns up to n frames of interleaved samples. It returns
// io.EOF once every frame has been read.
func (r *WAVReader) ReadFrames(n int) (*goaudio.IntBuffer, error) {
	remaining := r.Info.Frames - r.read
	if remaining <= 0 {
		return nil, io.EOF
	}
	if int64(n) > remaining {
		n = int(remaining)
	}

	want := n * r.Info.Channels
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: r.Info.Channels,
			SampleRate:  r.Info.SampleRate,
		},
		SourceBitDepth: r.Info.BitDepth,
	}
	data := make([]int, 0, want)
	scratch := &goaudio.IntBuffer{Format: buf.Format, Data: make([]int, want)}
	for len(data) < want {
		scratch.Data = scratch.Data[:want-len(data)]
		got, err := r.dec.PCMBuffer(scratch)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read pcm: %w", err)
		}
		if got == 0 {
			break
		}
		data = append(data, scratch.Data[:got]...)
	}

	frames := len(data) / r.Info.Channels
	if frames == 0 {
		r.read = r.Info.Frames
		return nil, io.EOF
	}
	buf.Data = data[:frames*r.Info.Channels]
	r.read += int64(frames)
	return buf, nil
}

func (r *WAVReader) Close() error {
	return r.f.Close()
}

// WriteWAV encodes buf as a standalone PCM WAV file at path.
func WriteWAV(path string, buf *goaudio.IntBuffer, bitDepth int) error {
	if buf == nil || buf.Format == nil {
		return fmt.Errorf("%w: buffer has no format", ErrInvalidAudioParameters)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	enc := wav.NewEncoder(f, buf.Format.SampleRate, bitDepth, buf.Format.NumChannels, 1)
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}

// WritePCM16WAV writes mono 16-bit samples as a WAV file.
func WritePCM16WAV(path string, samples []int16, sampleRate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	return WriteWAV(path, buf, 16)
}

// ReadMonoFloat32 decodes a whole WAV file into mono samples in [-1, 1],
// averaging channels.
func ReadMonoFloat32(path string) ([]float32, int, error) {
	r, err := OpenWAV(path)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	buf, err := r.ReadFrames(int(r.Info.Frames))
	if err != nil {
		return nil, 0, err
	}

	scale := float32(int64(1) << (r.Info.BitDepth - 1))
	ch := r.Info.Channels
	out := make([]float32, len(buf.Data)/ch)
	for i := range out {
		var sum float32
		for c := 0; c < ch; c++ {
			v := buf.Data[i*ch+c]
			if r.Info.BitDepth == 8 {
				// 8-bit PCM is unsigned.
				v -= 128
			}
			sum += float32(v) / scale
		}
		out[i] = sum / float32(ch)
	}
	return out, r.Info.SampleRate, nil
}
