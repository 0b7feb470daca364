package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/meetscribe"
	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/events"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/pipeline"
	"github.com/snarg/meetscribe/internal/provider"
	"github.com/snarg/meetscribe/internal/session"
	"github.com/snarg/meetscribe/internal/voiceprint"
)

// Deps collects everything the HTTP layer serves. Nil fields disable the
// corresponding routes rather than failing at startup.
type Deps struct {
	Engine     *session.Engine
	Pipeline   *pipeline.Orchestrator
	Voiceprint provider.Voiceprint
	Store      *voiceprint.Store
	Bus        *events.Bus
	Checkers   map[string]HealthChecker
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Health, metrics, and the API document — no auth
	health := NewHealthHandler(deps.Engine, deps.Checkers, version, startTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/api/v1/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(meetscribe.OpenAPISpec)
	})

	// Authenticated routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		if deps.Engine != nil {
			NewSessionsHandler(deps.Engine, log).Routes(r)
		}
		if deps.Pipeline != nil {
			NewTranscribeHandler(deps.Pipeline, cfg.TempDir, log).Routes(r)
		}
		if deps.Voiceprint != nil {
			NewProfilesHandler(deps.Voiceprint, deps.Store, cfg.TempDir, log).Routes(r)
		}
		if deps.Bus != nil {
			NewEventsHandler(deps.Bus).Routes(r)
		}
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

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
