package transcribe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// DefaultModelBaseURL hosts the official ggml whisper models.
const DefaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// DownloadOptions configures a single file download.
type DownloadOptions struct {
	URL            string
	Destination    string
	ExpectedSHA256 string
	Retries        int
	NoProgress     bool
	HTTPClient     *http.Client
	Log            zerolog.Logger
}

// EnsureModel downloads the ggml file at path from baseURL when it is
// missing or empty. The file name on the server is the base name of path.
func EnsureModel(ctx context.Context, path, baseURL string, log zerolog.Logger) error {
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		return nil
	}
	if baseURL == "" {
		baseURL = DefaultModelBaseURL
	}
	url := strings.TrimSuffix(baseURL, "/") + "/" + filepath.Base(path)

	log.Info().Str("url", url).Str("path", path).Msg("downloading whisper model")
	start := time.Now()
	if err := DownloadFile(ctx, DownloadOptions{URL: url, Destination: path, Log: log}); err != nil {
		return fmt.Errorf("download whisper model: %w", err)
	}
	log.Info().Str("path", path).Dur("took", time.Since(start)).Msg("whisper model downloaded")
	return nil
}

// DownloadFile fetches opts.URL into opts.Destination through a ".part"
// file that is renamed into place only after the body (and checksum, when
// given) checks out.
func DownloadFile(ctx context.Context, opts DownloadOptions) error {
	if opts.URL == "" {
		return errors.New("download URL is required")
	}
	if opts.Destination == "" {
		return errors.New("destination path is required")
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Minute}
	}

	if err := os.MkdirAll(filepath.Dir(opts.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	expected := strings.ToLower(strings.TrimSpace(opts.ExpectedSHA256))
	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		if attempt > 1 {
			opts.Log.Warn().Err(lastErr).Int("attempt", attempt).Int("max", opts.Retries).Str("url", opts.URL).Msg("retrying download")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
		}

		lastErr = downloadOnce(ctx, opts, expected)
		if lastErr == nil || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func downloadOnce(ctx context.Context, opts DownloadOptions, expected string) error {
	tempPath := opts.Destination + ".part"
	_ = os.Remove(tempPath)

	outFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		_ = outFile.Close()
		if !success {
			_ = os.Remove(tempPath)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "voxarchive/1")

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	hash := sha256.New()
	writer := io.MultiWriter(outFile, hash)

	var bar *progressbar.ProgressBar
	if shouldRenderProgress(opts.NoProgress, resp.ContentLength) {
		bar = progressbar.NewOptions64(
			resp.ContentLength,
			progressbar.OptionSetDescription("downloading model"),
			progressbar.OptionSetWidth(20),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
		writer = io.MultiWriter(outFile, hash, bar)
	}

	if _, err := io.Copy(writer, resp.Body); err != nil {
		return fmt.Errorf("download body: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if err := outFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}

	actual := hex.EncodeToString(hash.Sum(nil))
	if expected != "" && actual != expected {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actual)
	}

	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, opts.Destination); err != nil {
		return fmt.Errorf("move temp file into destination: %w", err)
	}

	success = true
	return nil
}

func shouldRenderProgress(noProgress bool, contentLength int64) bool {
	if noProgress || contentLength <= 0 {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
