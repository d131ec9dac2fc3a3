package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore serves audio files from a directory.
type LocalStore struct {
	audioDir string
}

// NewLocalStore creates a local filesystem audio store.
func NewLocalStore(audioDir string) *LocalStore {
	return &LocalStore{audioDir: audioDir}
}

// Save writes data under key atomically.
func (s *LocalStore) Save(ctx context.Context, key string, data []byte) error {
	path, ok := s.path(key)
	if !ok {
		return fmt.Errorf("key %q escapes audio dir", key)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	// Atomic write: temp file + rename
	tmp, err := os.CreateTemp(dir, ".audio-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *LocalStore) LocalPath(key string) string {
	full, ok := s.path(key)
	if !ok {
		return ""
	}
	if fi, err := os.Stat(full); err == nil && fi.Mode().IsRegular() {
		return full
	}
	return ""
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	full, ok := s.path(key)
	if !ok {
		return nil, fmt.Errorf("open %s: %w", key, os.ErrNotExist)
	}
	return os.Open(full)
}

func (s *LocalStore) Exists(ctx context.Context, key string) bool {
	return s.LocalPath(key) != ""
}

func (s *LocalStore) Type() string { return "local" }

// Dir returns the audio directory path.
func (s *LocalStore) Dir() string { return s.audioDir }

// path maps key into the audio directory. Object references and keys that
// climb out of the directory have no local path.
func (s *LocalStore) path(key string) (string, bool) {
	if s.audioDir == "" || key == "" || isObjectRef(key) {
		return "", false
	}
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(s.audioDir, rel), true
}
