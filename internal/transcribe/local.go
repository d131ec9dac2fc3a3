package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/audio"
	"github.com/snarg/voxarchive/internal/config"
)

// whisperSampleRate is the input rate whisper models expect.
const whisperSampleRate = 16000

// LocalOptions configures the in-process whisper.cpp backend.
type LocalOptions struct {
	Model    string // profile name such as "base", or a path to a .bin file
	ModelDir string
	Device   string // "auto", "cuda" or "cpu"
	Threads  int
	Language string

	// AutoDownload fetches a missing model file from ModelURL before loading.
	AutoDownload bool
	ModelURL     string
}

func LocalOptionsFromConfig(cfg *config.Config) LocalOptions {
	return LocalOptions{
		Model:        cfg.WhisperModel,
		ModelDir:     cfg.WhisperDir,
		Device:       cfg.WhisperDevice,
		Threads:      cfg.WhisperThreads,
		Language:     cfg.Language,
		AutoDownload: cfg.WhisperAutoDownload,
		ModelURL:     cfg.WhisperModelURL,
	}
}

// speechEngine runs a loaded model over 16 kHz mono samples.
type speechEngine interface {
	Transcribe(ctx context.Context, samples []float32, language string, threads int) (string, error)
	Close() error
}

// LocalBackend transcribes with a whisper.cpp model held in memory.
type LocalBackend struct {
	mu      sync.Mutex
	engine  speechEngine
	opts    LocalOptions
	device  string
	profile string
	path    string
	log     zerolog.Logger
}

// gpuPresent reports whether a CUDA device looks usable.
var gpuPresent = func() bool {
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		return true
	}
	_, err := os.Stat("/dev/nvidia0")
	return err == nil
}

func NewLocalBackend(opts LocalOptions, log zerolog.Logger) (*LocalBackend, error) {
	device := resolveDevice(opts.Device)
	profile := resolveProfile(opts.Model, device)
	path := modelPath(opts.ModelDir, profile)

	if opts.AutoDownload {
		if err := EnsureModel(context.Background(), path, opts.ModelURL, log); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: whisper model %s: %v", ErrBackendUnavailable, path, err)
	}

	start := time.Now()
	engine, err := loadEngine(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	log.Info().
		Str("device", device).
		Str("profile", profile).
		Str("model_path", path).
		Str("language", opts.Language).
		Dur("load_time", time.Since(start)).
		Msg("local transcription backend ready")

	return &LocalBackend{
		engine:  engine,
		opts:    opts,
		device:  device,
		profile: profile,
		path:    path,
		log:     log,
	}, nil
}

func (b *LocalBackend) Kind() string  { return KindLocal }
func (b *LocalBackend) Model() string { return b.profile }

// Transcribe runs the model over a WAV file. Other containers are rejected.
func (b *LocalBackend) Transcribe(ctx context.Context, audioPath string) (*Response, error) {
	if !audio.IsWAV(audioPath) {
		return nil, fmt.Errorf("%w: local backend reads wav only, got %s", ErrBackendCallFailed, filepath.Ext(audioPath))
	}
	samples, rate, err := audio.ReadMonoFloat32(audioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendCallFailed, err)
	}
	samples = audio.Resample(samples, rate, whisperSampleRate)

	threads := b.opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	text, err := b.engine.Transcribe(ctx, samples, b.opts.Language, threads)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendCallFailed, err)
	}

	duration := float64(len(samples)) / whisperSampleRate
	b.log.Debug().
		Str("file", audioPath).
		Float64("audio_sec", duration).
		Dur("took", time.Since(start)).
		Msg("local transcription complete")

	return &Response{
		Text:     strings.TrimSpace(text),
		Language: b.opts.Language,
		Duration: duration,
	}, nil
}

// Close releases the model.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine == nil {
		return nil
	}
	err := b.engine.Close()
	b.engine = nil
	return err
}

func resolveDevice(setting string) string {
	switch strings.ToLower(strings.TrimSpace(setting)) {
	case "cuda", "gpu":
		return "cuda"
	case "cpu":
		return "cpu"
	}
	if gpuPresent() {
		return "cuda"
	}
	return "cpu"
}

func resolveProfile(model, device string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	if device == "cuda" {
		return "large-v2"
	}
	return "base"
}

// modelPath maps a profile to its ggml file. Profiles that already name a
// .bin file are used as given, relative to dir unless they carry a path.
func modelPath(dir, profile string) string {
	if strings.HasSuffix(profile, ".bin") {
		if filepath.IsAbs(profile) || strings.ContainsRune(profile, filepath.Separator) {
			return profile
		}
		return filepath.Join(dir, profile)
	}
	return filepath.Join(dir, "ggml-"+profile+".bin")
}
