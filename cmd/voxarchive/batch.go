package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/snarg/voxarchive/internal/transcribe"
	"github.com/spf13/cobra"
)

func newBatchCmd(app *appState) *cobra.Command {
	var (
		limit   int
		workers int
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Transcribe voice messages that have no cached transcription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := app.log

			eng, err := app.openEngine(ctx, nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			ids, err := eng.db.ListUntranscribedVoice(ctx, limit)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				log.Info().Msg("every voice message already has a transcription")
				return nil
			}
			if workers <= 0 {
				workers = app.cfg.Workers
			}

			bar := newCountBar(app.progressEnabled(), "Transcribing", len(ids))
			var wg sync.WaitGroup
			pool := transcribe.NewWorkerPool(transcribe.WorkerPoolOptions{
				Runner:     eng.service,
				Workers:    workers,
				QueueSize:  len(ids),
				JobTimeout: app.cfg.JobTimeout,
				OnDone: func(transcribe.Job, *transcribe.Result, error) {
					bar.Add()
					wg.Done()
				},
				Log: component(log, "worker"),
			})
			pool.Start()

			for _, id := range ids {
				wg.Add(1)
				if !pool.Enqueue(transcribe.Job{MessageID: id, Origin: "batch"}) {
					wg.Done()
				}
			}

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				pool.Stop()
			case <-ctx.Done():
				pool.Abort()
			}
			bar.Finish()

			st := pool.Stats()
			fmt.Fprintf(os.Stderr, "%d transcribed, %d failed, %d listed\n", st.Completed, st.Failed, len(ids))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if st.Failed > 0 {
				return fmt.Errorf("%d of %d transcriptions failed", st.Failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of messages to transcribe")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent transcriptions (default from config)")
	return cmd
}
