// Package ingest feeds voice files dropped into an inbox directory to the
// transcription queue.
package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/metrics"
	"github.com/snarg/voxarchive/internal/transcribe"
)

// DefaultDebounce coalesces the Create and Write events of one file copy.
const DefaultDebounce = 500 * time.Millisecond

// inboxExts are the audio containers the inbox accepts.
var inboxExts = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".silk": true,
}

// Enqueuer accepts jobs. *transcribe.WorkerPool satisfies it.
type Enqueuer interface {
	Enqueue(job transcribe.Job) bool
}

// InboxStats is reported by the watcher for logs and the CLI.
type InboxStats struct {
	Status  string `json:"status"`
	Dir     string `json:"dir"`
	Queued  int64  `json:"queued"`
	Skipped int64  `json:"skipped"`
}

// InboxWatcher watches a directory tree for files named <message_id>.<ext>
// and queues each one for transcription with the file as supplied audio.
type InboxWatcher struct {
	dir      string
	queue    Enqueuer
	debounce time.Duration
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	// path -> mod time of the last queued version
	seenMu sync.Mutex
	seen   map[string]time.Time

	queued  atomic.Int64
	skipped atomic.Int64
	status  atomic.Value // "starting", "backfilling", "watching", "stopped"
}

func NewInboxWatcher(dir string, queue Enqueuer, log zerolog.Logger) *InboxWatcher {
	w := &InboxWatcher{
		dir:            dir,
		queue:          queue,
		debounce:       DefaultDebounce,
		log:            log.With().Str("component", "inbox").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		seen:           make(map[string]time.Time),
	}
	w.status.Store("starting")
	return w
}

// ParseInboxName returns the message id encoded in an inbox file name.
// Hidden files, partial downloads and unknown extensions are rejected.
func ParseInboxName(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	ext := strings.ToLower(filepath.Ext(base))
	if !inboxExts[ext] {
		return "", false
	}
	id := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if id == "" {
		return "", false
	}
	return id, true
}

// Start creates the inbox if needed, watches every directory under it and
// queues files already present in the background.
func (w *InboxWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	dirCount := 0
	err = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("error walking inbox")
			return nil
		}
		if d.IsDir() {
			if addErr := fw.Add(path); addErr != nil {
				w.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return err
	}

	w.log.Info().Int("directories", dirCount).Str("dir", w.dir).Msg("inbox watcher initialized")

	go w.watchLoop()
	go w.backfill()
	return nil
}

// Stop closes the watcher and cancels pending debounced files.
func (w *InboxWatcher) Stop() {
	w.status.Store("stopped")
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
		<-w.done
	}

	w.debounceMu.Lock()
	for path, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()

	w.log.Info().
		Int64("files_queued", w.queued.Load()).
		Int64("files_skipped", w.skipped.Load()).
		Msg("inbox watcher stopped")
}

func (w *InboxWatcher) Stats() InboxStats {
	s, _ := w.status.Load().(string)
	return InboxStats{
		Status:  s,
		Dir:     w.dir,
		Queued:  w.queued.Load(),
		Skipped: w.skipped.Load(),
	}
}

func (w *InboxWatcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			// New subdirectory: watch it too.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err != nil {
					w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				}
				continue
			}

			if _, ok := ParseInboxName(event.Name); !ok {
				continue
			}
			w.scheduleProcess(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess waits for a quiet period on path before queuing it.
func (w *InboxWatcher) scheduleProcess(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(w.debounce)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(w.debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		if w.ctx.Err() == nil {
			w.processFile(path)
		}
	})
}

// processFile queues path unless this exact version was queued before.
func (w *InboxWatcher) processFile(path string) {
	id, ok := ParseInboxName(path)
	if !ok {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return
	}

	w.seenMu.Lock()
	if mt, ok := w.seen[path]; ok && mt.Equal(info.ModTime()) {
		w.seenMu.Unlock()
		return
	}
	w.seenMu.Unlock()

	job := transcribe.Job{
		MessageID: id,
		AudioPath: path,
		HostPath:  true,
		Origin:    "inbox",
	}
	if !w.queue.Enqueue(job) {
		w.skipped.Add(1)
		metrics.InboxFilesTotal.WithLabelValues("rejected").Inc()
		w.log.Warn().Str("path", path).Str("message_id", id).Msg("transcription queue full, inbox file skipped")
		return
	}

	w.seenMu.Lock()
	w.seen[path] = info.ModTime()
	w.seenMu.Unlock()

	w.queued.Add(1)
	metrics.InboxFilesTotal.WithLabelValues("queued").Inc()
	w.log.Debug().Str("path", path).Str("message_id", id).Msg("inbox file queued")
}

// backfill queues files that were in the inbox before the watcher started,
// oldest first.
func (w *InboxWatcher) backfill() {
	w.status.Store("backfilling")
	start := time.Now()

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry

	_ = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if _, ok := ParseInboxName(path); !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileEntry{path: path, modTime: info.ModTime()})
		return nil
	})

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	for _, f := range files {
		if w.ctx.Err() != nil {
			w.log.Info().Msg("inbox backfill interrupted by shutdown")
			return
		}
		w.processFile(f.path)
	}

	w.status.CompareAndSwap("backfilling", "watching")
	w.log.Info().
		Int("files", len(files)).
		Dur("elapsed", time.Since(start)).
		Msg("inbox backfill complete")
}
