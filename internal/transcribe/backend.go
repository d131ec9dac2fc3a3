package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/config"
)

// Backend kinds as reported in results and metrics.
const (
	KindLocal  = "local"
	KindRemote = "remote"
	KindNone   = "none"
)

// Backend is a speech-to-text engine.
type Backend interface {
	Transcribe(ctx context.Context, audioPath string) (*Response, error)
	Kind() string  // KindLocal or KindRemote
	Model() string // model identifier for logs
}

// Response is the text a backend produced for one audio file.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds, 0 if unknown
}

// NewBackend constructs the configured backend once at startup. A local
// backend that cannot be loaded falls back to the remote one; an error is
// returned only when no backend can be built.
func NewBackend(cfg *config.Config, log zerolog.Logger) (Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Backend))

	switch kind {
	case KindLocal:
		local, err := NewLocalBackend(LocalOptionsFromConfig(cfg), log)
		if err == nil {
			return local, nil
		}
		log.Warn().Err(err).Msg("local transcription unavailable, falling back to remote")
		remote, rerr := NewRemoteBackend(RemoteOptionsFromConfig(cfg), log)
		if rerr != nil {
			return nil, fmt.Errorf("no transcription backend: %w", errors.Join(err, rerr))
		}
		return remote, nil
	case KindRemote, "":
		remote, err := NewRemoteBackend(RemoteOptionsFromConfig(cfg), log)
		if err != nil {
			return nil, fmt.Errorf("no transcription backend: %w", err)
		}
		return remote, nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q (want local or remote)", cfg.Backend)
	}
}
