package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/config"
	"github.com/snarg/voxarchive/internal/metrics"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions carries the collaborators behind the HTTP API. Queue,
// Pending, Uploads and MQTT may be nil; their endpoints then report the
// feature as unavailable.
type ServerOptions struct {
	Config      *config.Config
	DB          Pinger
	MQTT        ConnStatus
	Transcriber Transcriber
	Cache       TranscriptionReader
	Queue       JobQueue
	Pending     PendingLister
	Uploads     AudioSaver
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Health and metrics: no auth
	backend := ""
	if opts.Transcriber != nil {
		backend = opts.Transcriber.Backend().Kind()
	}
	health := NewHealthHandler(opts.DB, opts.MQTT, backend, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		r.Route("/api/v1", func(r chi.Router) {
			NewTranscriptionsHandler(TranscriptionsDeps{
				Transcriber: opts.Transcriber,
				Cache:       opts.Cache,
				Queue:       opts.Queue,
				Pending:     opts.Pending,
				Log:         opts.Log,
			}).Routes(r)
			NewUploadHandler(opts.Uploads, opts.Transcriber, opts.Log).Routes(r)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
