package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/audio/audiotest"
	"github.com/snarg/voxarchive/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackend(t *testing.T) {
	missingModels := t.TempDir()
	tests := []struct {
		name     string
		cfg      config.Config
		wantKind string
		wantErr  error
	}{
		{
			name:     "remote",
			cfg:      config.Config{Backend: "remote", OpenAIKey: "sk-test"},
			wantKind: KindRemote,
		},
		{
			name:     "default_is_remote",
			cfg:      config.Config{OpenAIKey: "sk-test"},
			wantKind: KindRemote,
		},
		{
			name:     "local_falls_back_to_remote",
			cfg:      config.Config{Backend: "Local", WhisperDir: missingModels, WhisperDevice: "cpu", OpenAIKey: "sk-test"},
			wantKind: KindRemote,
		},
		{
			name:    "local_without_fallback",
			cfg:     config.Config{Backend: "local", WhisperDir: missingModels, WhisperDevice: "cpu"},
			wantErr: ErrBackendUnavailable,
		},
		{
			name:    "remote_without_key",
			cfg:     config.Config{Backend: "remote"},
			wantErr: ErrBackendUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBackend(&tt.cfg, zerolog.Nop())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, b.Kind())
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := NewBackend(&config.Config{Backend: "carrier-pigeon", OpenAIKey: "sk"}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "carrier-pigeon")
	})
}

func TestResolveDevice(t *testing.T) {
	orig := gpuPresent
	defer func() { gpuPresent = orig }()

	gpuPresent = func() bool { return true }
	assert.Equal(t, "cuda", resolveDevice("auto"))
	assert.Equal(t, "cpu", resolveDevice("CPU"))

	gpuPresent = func() bool { return false }
	assert.Equal(t, "cpu", resolveDevice(""))
	assert.Equal(t, "cuda", resolveDevice("gpu"))
}

func TestResolveProfile(t *testing.T) {
	tests := []struct {
		model, device, want string
	}{
		{"", "cuda", "large-v2"},
		{"", "cpu", "base"},
		{" small ", "cuda", "small"},
		{"/models/custom.bin", "cpu", "/models/custom.bin"},
	}
	for _, tt := range tests {
		if got := resolveProfile(tt.model, tt.device); got != tt.want {
			t.Errorf("resolveProfile(%q, %q) = %q, want %q", tt.model, tt.device, got, tt.want)
		}
	}
}

func TestModelPath(t *testing.T) {
	dir := filepath.Join("var", "models")
	tests := []struct {
		profile, want string
	}{
		{"base", filepath.Join(dir, "ggml-base.bin")},
		{"large-v2", filepath.Join(dir, "ggml-large-v2.bin")},
		{"custom.bin", filepath.Join(dir, "custom.bin")},
		{"/opt/whisper/custom.bin", "/opt/whisper/custom.bin"},
	}
	for _, tt := range tests {
		if got := modelPath(dir, tt.profile); got != tt.want {
			t.Errorf("modelPath(%q) = %q, want %q", tt.profile, got, tt.want)
		}
	}
}

func TestNewLocalBackendUnloadableModel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-base.bin"), []byte("not a model"), 0o644))

	_, err := NewLocalBackend(LocalOptions{ModelDir: dir, Device: "cpu"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

type fakeEngine struct {
	samples  int
	language string
	threads  int
	text     string
	err      error
	closed   bool
}

func (e *fakeEngine) Transcribe(_ context.Context, samples []float32, language string, threads int) (string, error) {
	e.samples = len(samples)
	e.language = language
	e.threads = threads
	return e.text, e.err
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

func TestLocalBackendTranscribe(t *testing.T) {
	engine := &fakeEngine{text: "  你好世界 "}
	b := &LocalBackend{
		engine:  engine,
		opts:    LocalOptions{Language: "zh", Threads: 2},
		profile: "base",
		log:     zerolog.Nop(),
	}
	assert.Equal(t, KindLocal, b.Kind())
	assert.Equal(t, "base", b.Model())

	dir := t.TempDir()
	wav := audiotest.WriteTone(t, dir, "one.wav", 1, 8000)

	resp, err := b.Transcribe(context.Background(), wav)
	require.NoError(t, err)
	assert.Equal(t, "你好世界", resp.Text)
	assert.Equal(t, whisperSampleRate, engine.samples, "8 kHz input is resampled to 16 kHz")
	assert.Equal(t, "zh", engine.language)
	assert.Equal(t, 2, engine.threads)
	assert.InDelta(t, 1.0, resp.Duration, 0.001)

	mp3 := audiotest.WriteFile(t, dir, "one.mp3", []byte("ID3\x03\x00"))
	_, err = b.Transcribe(context.Background(), mp3)
	assert.ErrorIs(t, err, ErrBackendCallFailed)

	engine.err = errors.New("model crashed")
	_, err = b.Transcribe(context.Background(), wav)
	assert.ErrorIs(t, err, ErrBackendCallFailed)

	require.NoError(t, b.Close())
	assert.True(t, engine.closed)
	require.NoError(t, b.Close())
}
