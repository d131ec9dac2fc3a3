package transcribe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Job is one queued transcription.
type Job struct {
	MessageID  string `json:"message_id"`
	AudioPath  string `json:"audio_path,omitempty"`
	Force      bool   `json:"force,omitempty"`
	Regenerate bool   `json:"regenerate,omitempty"`
	Origin     string `json:"origin,omitempty"` // "api", "mqtt", "inbox", "cli"
	HostPath   bool   `json:"-"`                // see Request.HostPath
}

// QueueStats reports the current state of the transcription queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Capacity  int   `json:"capacity"`
	Workers   int   `json:"workers"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Runner executes a job. *Service satisfies it.
type Runner interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
	Regenerate(ctx context.Context, req Request) (*Result, error)
}

// JobDoneFunc is called after each job with its result or error.
type JobDoneFunc func(job Job, res *Result, err error)

// WorkerPoolOptions configures the transcription worker pool.
type WorkerPoolOptions struct {
	Runner     Runner
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	OnDone     JobDoneFunc
	Log        zerolog.Logger
}

// WorkerPool runs queued jobs on a fixed set of goroutines sharing one
// Runner.
type WorkerPool struct {
	jobs   chan Job
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	completed atomic.Int64
	failed    atomic.Int64
}

var errJobFailed = errors.New("transcription unsuccessful")

// NewWorkerPool creates a new transcription worker pool.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:   make(chan Job, opts.QueueSize),
		opts:   opts,
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("transcription worker pool started")
}

// Stop stops accepting jobs, lets workers drain the queue and waits for
// them. Calling Stop more than once is a no-op.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("transcription worker pool stopped")
}

// Abort cancels in-flight jobs, then stops the pool.
func (wp *WorkerPool) Abort() {
	wp.cancel()
	wp.Stop()
}

// Enqueue adds a job to the transcription queue. Returns false if the
// queue is full or the pool has stopped.
func (wp *WorkerPool) Enqueue(j Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}
	select {
	case wp.jobs <- j:
		return true
	default:
		return false
	}
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   wp.Pending(),
		Capacity:  wp.Capacity(),
		Workers:   wp.Workers(),
		Completed: wp.Completed(),
		Failed:    wp.Failed(),
	}
}

func (wp *WorkerPool) Pending() int     { return len(wp.jobs) }
func (wp *WorkerPool) Capacity() int    { return cap(wp.jobs) }
func (wp *WorkerPool) Completed() int64 { return wp.completed.Load() }
func (wp *WorkerPool) Failed() int64    { return wp.failed.Load() }

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int { return wp.opts.Workers }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for job := range wp.jobs {
		res, err := wp.processJob(job)
		if err == nil && (res == nil || !res.Success) {
			err = errJobFailed
		}
		if err != nil {
			wp.failed.Add(1)
			ev := log.Warn().Err(err).Str("message_id", job.MessageID).Str("origin", job.Origin)
			if res != nil {
				ev = ev.Str("reason", res.Message)
			}
			ev.Msg("transcription job failed")
		} else {
			wp.completed.Add(1)
		}
		if wp.opts.OnDone != nil {
			wp.opts.OnDone(job, res, err)
		}
	}
}

func (wp *WorkerPool) processJob(job Job) (*Result, error) {
	ctx := wp.ctx
	if wp.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.opts.JobTimeout)
		defer cancel()
	}

	req := Request{
		MessageID: job.MessageID,
		AudioPath: job.AudioPath,
		Force:     job.Force,
		HostPath:  job.HostPath,
	}
	if job.Regenerate {
		return wp.opts.Runner.Regenerate(ctx, req)
	}
	return wp.opts.Runner.Transcribe(ctx, req)
}
