package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/audio"
	"github.com/snarg/voxarchive/internal/metrics"
)

// Result sources.
const (
	SourceCached    = "cached"
	SourceGenerated = "generated"
)

// Cache is the transcription cache the service reads before and writes
// after a backend run.
type Cache interface {
	Get(ctx context.Context, messageID string) (string, bool, error)
	Put(ctx context.Context, messageID, text string) error
	Delete(ctx context.Context, messageID string) (bool, error)
}

// AudioResolver produces a playable file for a message.
type AudioResolver interface {
	Resolve(ctx context.Context, messageID string, hint audio.Hint) (audio.Resolved, error)
}

// Event is published after a transcription has been generated and cached.
type Event struct {
	MessageID  string    `json:"message_id"`
	Text       string    `json:"transcription"`
	Backend    string    `json:"backend"`
	Model      string    `json:"model"`
	Forced     bool      `json:"forced"`
	DurationMs int64     `json:"duration_ms"`
	Time       time.Time `json:"time"`
}

// EventPublishFunc receives generated-transcription events.
type EventPublishFunc func(Event)

// Request asks for the transcription of one voice message. AudioPath is an
// audio store key unless HostPath allows any local file; HostPath is never
// decoded from a wire request.
type Request struct {
	MessageID string `json:"message_id"`
	AudioPath string `json:"audio_path,omitempty"`
	Force     bool   `json:"force,omitempty"`
	HostPath  bool   `json:"-"`
}

// Result is the outcome of Transcribe or Regenerate.
type Result struct {
	MessageID       string `json:"message_id"`
	Success         bool   `json:"success"`
	Text            string `json:"transcription,omitempty"`
	Source          string `json:"source,omitempty"`
	Backend         string `json:"backend"`
	Forced          bool   `json:"forced"`
	Message         string `json:"message,omitempty"`
	Regenerated     bool   `json:"regenerated,omitempty"`
	DeletedPrevious bool   `json:"deleted_previous,omitempty"`
}

// ServiceOptions wires the service's collaborators.
type ServiceOptions struct {
	Backend      Backend
	Cache        Cache
	Resolver     AudioResolver
	ChunkSeconds float64
	PublishEvent EventPublishFunc
	Log          zerolog.Logger
}

// Service orchestrates cache lookup, audio resolution, backend dispatch
// and cache write for voice message transcriptions.
type Service struct {
	backend  Backend
	chunker  *Chunker
	cache    Cache
	resolver AudioResolver
	publish  EventPublishFunc
	log      zerolog.Logger
}

func NewService(opts ServiceOptions) *Service {
	return &Service{
		backend:  opts.Backend,
		chunker:  NewChunker(opts.Backend, opts.ChunkSeconds, opts.Log),
		cache:    opts.Cache,
		resolver: opts.Resolver,
		publish:  opts.PublishEvent,
		log:      opts.Log,
	}
}

// Backend returns the backend chosen at construction.
func (s *Service) Backend() Backend { return s.backend }

// Transcribe returns the transcription of a voice message, from the cache
// unless req.Force is set, otherwise by running the backend and caching
// the text. Failures to find audio or to recognize speech are reported in
// the Result; only a failed cache write is returned as an error.
func (s *Service) Transcribe(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := s.log.With().Str("message_id", req.MessageID).Bool("force", req.Force).Logger()

	if req.MessageID == "" {
		return &Result{Backend: KindNone, Message: "message id is required"}, nil
	}

	if !req.Force {
		text, found, err := s.cache.Get(ctx, req.MessageID)
		switch {
		case err != nil:
			metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
			log.Warn().Err(err).Msg("cache read failed, transcribing anyway")
		case found:
			metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			s.observe(KindNone, SourceCached, "success", start)
			return &Result{
				MessageID: req.MessageID,
				Success:   true,
				Text:      text,
				Source:    SourceCached,
				Backend:   KindNone,
				Message:   "using existing transcription",
			}, nil
		default:
			metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		}
	}

	resolved, err := s.resolver.Resolve(ctx, req.MessageID, audio.Hint{Path: req.AudioPath, HostPath: req.HostPath})
	if err != nil {
		log.Warn().Err(err).Msg("no audio for message")
		s.observe(KindNone, "", "audio_unavailable", start)
		return &Result{
			MessageID: req.MessageID,
			Backend:   KindNone,
			Forced:    req.Force,
			Message:   fmt.Sprintf("audio file processing failed: %v", err),
		}, nil
	}
	defer func() {
		if err := resolved.Cleanup(); err != nil {
			log.Warn().Err(err).Str("file", resolved.Path).Msg("failed to remove temporary audio")
		}
	}()

	kind := s.backend.Kind()
	text, err := s.run(ctx, resolved.Path)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, ErrNoSpeech) {
			outcome = "no_speech"
		}
		log.Warn().Err(err).Str("backend", kind).Str("origin", resolved.Origin).Msg("transcription produced no text")
		s.observe(kind, "", outcome, start)
		return &Result{
			MessageID: req.MessageID,
			Backend:   kind,
			Forced:    req.Force,
			Message:   fmt.Sprintf("transcription failed with %s backend: %v", kind, err),
		}, nil
	}

	if err := s.cache.Put(ctx, req.MessageID, text); err != nil {
		s.observe(kind, "", "store_failed", start)
		return nil, fmt.Errorf("cache transcription for %s: %w", req.MessageID, err)
	}

	elapsed := time.Since(start)
	s.observe(kind, SourceGenerated, "success", start)
	log.Info().
		Str("backend", kind).
		Str("origin", resolved.Origin).
		Int("text_len", len(text)).
		Dur("took", elapsed).
		Msg("transcription generated")

	if s.publish != nil {
		s.publish(Event{
			MessageID:  req.MessageID,
			Text:       text,
			Backend:    kind,
			Model:      s.backend.Model(),
			Forced:     req.Force,
			DurationMs: elapsed.Milliseconds(),
			Time:       time.Now().UTC(),
		})
	}

	msg := fmt.Sprintf("transcription completed using %s backend", kind)
	if req.Force {
		msg += " (regenerated)"
	}
	return &Result{
		MessageID: req.MessageID,
		Success:   true,
		Text:      text,
		Source:    SourceGenerated,
		Backend:   kind,
		Forced:    req.Force,
		Message:   msg,
	}, nil
}

// Regenerate drops any cached transcription and transcribes again with
// force. A failed delete is logged and does not stop the new run.
func (s *Service) Regenerate(ctx context.Context, req Request) (*Result, error) {
	deleted, err := s.cache.Delete(ctx, req.MessageID)
	if err != nil {
		s.log.Warn().Err(err).Str("message_id", req.MessageID).Msg("failed to delete previous transcription")
	}

	req.Force = true
	res, err := s.Transcribe(ctx, req)
	if err != nil {
		return nil, err
	}
	res.Regenerated = true
	res.DeletedPrevious = deleted
	return res, nil
}

// run dispatches to the backend. Remote input may be chunked.
func (s *Service) run(ctx context.Context, path string) (string, error) {
	if s.backend.Kind() == KindRemote {
		return s.transcribeRemote(ctx, path)
	}
	resp, err := s.backend.Transcribe(ctx, path)
	if err != nil {
		return "", err
	}
	return spoken(resp)
}

// transcribeRemote sends WAV audio longer than one segment straight to the
// chunker. A WAV header with no rate, channels or frames is rejected before
// any call. Anything else goes up whole; if that call fails on WAV input it
// is retried once in chunks.
func (s *Service) transcribeRemote(ctx context.Context, path string) (string, error) {
	isWAV := audio.IsWAV(path)
	if isWAV {
		info, err := audio.ReadWAVInfo(path)
		if errors.Is(err, audio.ErrInvalidAudioParameters) {
			return "", err
		}
		if err == nil && info.Duration() > s.chunker.SegmentDuration() {
			return s.chunker.TranscribeLong(ctx, path)
		}
	}

	resp, err := s.backend.Transcribe(ctx, path)
	if err == nil {
		return spoken(resp)
	}
	if !isWAV || ctx.Err() != nil {
		return "", err
	}

	s.log.Info().Err(err).Str("file", path).Msg("whole-file transcription failed, retrying in chunks")
	return s.chunker.TranscribeLong(ctx, path)
}

func spoken(resp *Response) (string, error) {
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

func (s *Service) observe(backend, source, outcome string, start time.Time) {
	metrics.TranscriptionsTotal.WithLabelValues(backend, source, outcome).Inc()
	if outcome == "success" {
		metrics.TranscriptionDuration.WithLabelValues(backend, source).Observe(time.Since(start).Seconds())
	}
}
