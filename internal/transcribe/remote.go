package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/snarg/voxarchive/internal/config"
)

// RemoteOptions configures the OpenAI-compatible transcription client.
type RemoteOptions struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

func RemoteOptionsFromConfig(cfg *config.Config) RemoteOptions {
	return RemoteOptions{
		APIKey:   cfg.OpenAIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    cfg.OpenAIModel,
		Language: cfg.Language,
		Timeout:  cfg.OpenAITimeout,
	}
}

// RemoteBackend calls an OpenAI-compatible /audio/transcriptions endpoint.
// One call handles roughly ten seconds of audio reliably; longer WAV input
// goes through the Chunker.
type RemoteBackend struct {
	client *openai.Client
	opts   RemoteOptions
	log    zerolog.Logger
}

func NewRemoteBackend(opts RemoteOptions, log zerolog.Logger) (*RemoteBackend, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: remote backend needs OPENAI_API_KEY", ErrBackendUnavailable)
	}
	if opts.Model == "" {
		opts.Model = openai.Whisper1
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	log.Info().
		Str("base_url", cfg.BaseURL).
		Str("model", opts.Model).
		Str("language", opts.Language).
		Dur("timeout", opts.Timeout).
		Msg("remote transcription backend ready")

	return &RemoteBackend{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
		log:    log,
	}, nil
}

func (b *RemoteBackend) Kind() string  { return KindRemote }
func (b *RemoteBackend) Model() string { return b.opts.Model }

// Transcribe uploads the whole file in a single request.
func (b *RemoteBackend) Transcribe(ctx context.Context, audioPath string) (*Response, error) {
	start := time.Now()
	resp, err := b.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    b.opts.Model,
		FilePath: audioPath,
		Language: b.opts.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendCallFailed, err)
	}

	b.log.Debug().
		Str("file", audioPath).
		Int("text_len", len(resp.Text)).
		Dur("took", time.Since(start)).
		Msg("remote transcription complete")

	return &Response{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
	}, nil
}
