package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/audio"
	"github.com/snarg/voxarchive/internal/cache"
	"github.com/snarg/voxarchive/internal/database"
	"github.com/snarg/voxarchive/internal/storage"
	"github.com/snarg/voxarchive/internal/transcribe"
)

// engine holds the collaborators shared by every command.
type engine struct {
	db      *database.DB
	store   storage.AudioStore
	backend transcribe.Backend
	service *transcribe.Service
	cache   *cache.Store
}

// openEngine connects to the archive and builds the transcription service.
// publish may be nil.
func (a *appState) openEngine(ctx context.Context, publish transcribe.EventPublishFunc) (*engine, error) {
	cfg, log := a.cfg, a.log

	db, err := database.Connect(ctx, cfg.DatabaseURL, database.Options{
		VoiceType: cfg.VoiceMessageType,
		MaxConns:  int32(cfg.Workers + 4),
	}, component(log, "database"))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	store, err := storage.New(cfg.S3, cfg.AudioDir, component(log, "storage"))
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("type", store.Type()).Str("audio_dir", cfg.AudioDir).Msg("audio store ready")

	var decoder audio.Decoder
	if dec, err := audio.NewSilkDecoder(); err == nil {
		decoder = dec
	} else {
		log.Warn().Err(err).Msg("voice blobs cannot be decoded in this build")
	}

	backend, err := transcribe.NewBackend(cfg, component(log, "backend"))
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("backend", backend.Kind()).Str("model", backend.Model()).Msg("transcription backend ready")

	txCache := cache.New(db, component(log, "cache"))
	resolver := audio.NewResolver(db, store, decoder, component(log, "audio"))
	service := transcribe.NewService(transcribe.ServiceOptions{
		Backend:      backend,
		Cache:        txCache,
		Resolver:     resolver,
		ChunkSeconds: cfg.ChunkSeconds,
		PublishEvent: publish,
		Log:          component(log, "transcribe"),
	})

	return &engine{
		db:      db,
		store:   store,
		backend: backend,
		service: service,
		cache:   txCache,
	}, nil
}

func (e *engine) Close() error {
	defer e.db.Close()
	if c, ok := e.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
