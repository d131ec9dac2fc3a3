package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/rs/zerolog"
)

// remoteStore is the read side of an object store.
type remoteStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) bool
}

// TieredStore serves files from the audio directory and falls back to an
// object store, caching fetched plain keys locally.
type TieredStore struct {
	remote remoteStore
	local  *LocalStore
	log    zerolog.Logger
}

// NewTieredStore creates a local-first store backed by remote.
func NewTieredStore(remote remoteStore, local *LocalStore, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		remote: remote,
		local:  local,
		log:    log.With().Str("component", "tiered-store").Logger(),
	}
}

func (s *TieredStore) LocalPath(key string) string {
	return s.local.LocalPath(key)
}

// Open checks local disk first, then falls back to the object store. On a
// remote hit for a plain key, the file is cached locally for future reads.
func (s *TieredStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.local.LocalPath(key) != "" {
		return s.local.Open(ctx, key)
	}
	r, err := s.remote.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, err
	}
	if !isObjectRef(key) {
		if cacheErr := s.local.Save(ctx, key, data); cacheErr != nil {
			s.log.Warn().Err(cacheErr).Str("key", key).Msg("failed to cache object locally")
		}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	if s.local.Exists(ctx, key) {
		return true
	}
	return s.remote.Exists(ctx, key)
}

func (s *TieredStore) Type() string { return "tiered" }
