package transcribe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modelServer(t *testing.T, payload []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/models/ggml-base.bin" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestEnsureModelDownloadsMissing(t *testing.T) {
	t.Parallel()

	payload := []byte("ggml model bytes")
	srv, hits := modelServer(t, payload)
	path := filepath.Join(t.TempDir(), "models", "ggml-base.bin")

	require.NoError(t, EnsureModel(context.Background(), path, srv.URL+"/models/", zerolog.Nop()))

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)
	assert.NoFileExists(t, path+".part")

	// Present now, so no second fetch.
	require.NoError(t, EnsureModel(context.Background(), path, srv.URL+"/models", zerolog.Nop()))
	assert.Equal(t, int32(1), hits.Load())
}

func TestEnsureModelMissingUpstream(t *testing.T) {
	t.Parallel()

	srv, _ := modelServer(t, nil)
	path := filepath.Join(t.TempDir(), "ggml-tiny.bin")

	err := EnsureModel(context.Background(), path, srv.URL+"/models/", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".part")
}

func TestDownloadFileChecksum(t *testing.T) {
	t.Parallel()

	payload := []byte("hello-model")
	sum := sha256.Sum256(payload)
	srv, _ := modelServer(t, payload)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.bin")
	require.NoError(t, DownloadFile(context.Background(), DownloadOptions{
		URL:            srv.URL + "/models/ggml-base.bin",
		Destination:    good,
		ExpectedSHA256: hex.EncodeToString(sum[:]),
		NoProgress:     true,
		Retries:        1,
		Log:            zerolog.Nop(),
	}))
	assert.FileExists(t, good)

	bad := filepath.Join(dir, "bad.bin")
	err := DownloadFile(context.Background(), DownloadOptions{
		URL:            srv.URL + "/models/ggml-base.bin",
		Destination:    bad,
		ExpectedSHA256: "deadbeef",
		NoProgress:     true,
		Retries:        1,
		Log:            zerolog.Nop(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.NoFileExists(t, bad)
}

func TestNewLocalBackendAutoDownload(t *testing.T) {
	t.Parallel()

	srv, hits := modelServer(t, []byte("not a real model"))
	dir := t.TempDir()

	// The fetched bytes are no model, so loading still fails; the file must
	// have been fetched first.
	_, err := NewLocalBackend(LocalOptions{
		ModelDir:     dir,
		Device:       "cpu",
		AutoDownload: true,
		ModelURL:     srv.URL + "/models/",
	}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.FileExists(t, filepath.Join(dir, "ggml-base.bin"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewLocalBackendNoAutoDownload(t *testing.T) {
	t.Parallel()

	srv, hits := modelServer(t, []byte("model"))
	dir := t.TempDir()

	_, err := NewLocalBackend(LocalOptions{ModelDir: dir, Device: "cpu", ModelURL: srv.URL + "/models/"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.NoFileExists(t, filepath.Join(dir, "ggml-base.bin"))
	assert.Zero(t, hits.Load())
}
