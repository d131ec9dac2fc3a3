package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/config"
)

// AudioStore abstracts where materialized voice files live.
type AudioStore interface {
	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// Open returns a reader for the audio file. Keys of the form
	// s3://bucket/key address an object directly.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an audio file exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// New creates an AudioStore based on config. Without a bucket only the
// audio directory is used; with one, reads go to local disk first and fall
// back to S3, caching downloads under audioDir.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, audioDir string, log zerolog.Logger) (AudioStore, error) {
	local := NewLocalStore(audioDir)
	if !cfg.Enabled() {
		return local, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	return NewTieredStore(s3store, local, log), nil
}
