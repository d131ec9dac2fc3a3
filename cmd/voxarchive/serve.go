package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/snarg/voxarchive/internal/api"
	"github.com/snarg/voxarchive/internal/ingest"
	"github.com/snarg/voxarchive/internal/metrics"
	"github.com/snarg/voxarchive/internal/mqttclient"
	"github.com/snarg/voxarchive/internal/storage"
	"github.com/snarg/voxarchive/internal/transcribe"
	"github.com/spf13/cobra"
)

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the job queue and the optional MQTT and inbox feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&app.overrides.HTTPAddr, "addr", "", "HTTP listen address")
	return cmd
}

func (a *appState) serve(ctx context.Context) error {
	startTime := time.Now()
	cfg, log := a.cfg, a.log
	log.Info().Str("version", version).Msg("voxarchive starting")

	// MQTT first so generated transcriptions can be announced.
	var (
		mq         *mqttclient.Client
		mqttStatus api.ConnStatus
		publish    transcribe.EventPublishFunc
	)
	if cfg.MQTT.Enabled() {
		var err error
		mq, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Log:         component(log, "mqtt"),
		})
		if err != nil {
			return fmt.Errorf("connect mqtt: %w", err)
		}
		defer mq.Close()
		mqttStatus = mq
		publish = mq.EventPublisher()
	}

	eng, err := a.openEngine(ctx, publish)
	if err != nil {
		return err
	}
	defer eng.Close()

	pool := transcribe.NewWorkerPool(transcribe.WorkerPoolOptions{
		Runner:     eng.service,
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		JobTimeout: cfg.JobTimeout,
		Log:        component(log, "worker"),
	})
	pool.Start()
	defer pool.Stop()

	prometheus.MustRegister(metrics.NewCollector(eng.db.Pool, pool))

	if mq != nil {
		mq.SetMessageHandler(mqttclient.RequestHandler(pool, component(log, "mqtt")))
	}

	if cfg.InboxDir != "" {
		watcher := ingest.NewInboxWatcher(cfg.InboxDir, pool, component(log, "inbox"))
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start inbox watcher: %w", err)
		}
		defer watcher.Stop()
	}

	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		DB:          eng.db,
		MQTT:        mqttStatus,
		Transcriber: eng.service,
		Cache:       eng.cache,
		Queue:       pool,
		Pending:     eng.db,
		Uploads:     storage.NewLocalStore(cfg.AudioDir),
		Version:     version,
		StartTime:   startTime,
		Log:         component(log, "http"),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("voxarchive stopped")
	return nil
}
