// Package api is the local control surface: transcript injection,
// interrupts, runtime status, the live event feed, and metrics. It binds to
// loopback by default and carries no auth.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/metrics"
	"github.com/mattjoyce/herald/internal/state"
	"github.com/mattjoyce/herald/internal/tools"
)

// TranscriptSink accepts text as if it had been heard.
type TranscriptSink interface {
	Push(text string)
}

// Interrupter triggers a barge-in from outside the audio path.
type Interrupter interface {
	Interrupt(ctx context.Context) error
}

// StatusSource reports the conversation state.
type StatusSource interface {
	Phase() state.Phase
	Gen() uint64
}

// Config holds API server configuration.
type Config struct {
	Listen string
}

// Server is the HTTP control server.
type Server struct {
	config      Config
	transcripts TranscriptSink
	interrupter Interrupter
	status      StatusSource
	hub         *events.Hub
	registry    *tools.Registry
	logger      *slog.Logger
	server      *http.Server
	startedAt   time.Time
}

// New creates an API server.
func New(config Config, transcripts TranscriptSink, interrupter Interrupter, status StatusSource, hub *events.Hub, registry *tools.Registry, logger *slog.Logger) *Server {
	return &Server{
		config:      config,
		transcripts: transcripts,
		interrupter: interrupter,
		status:      status,
		hub:         hub,
		registry:    registry,
		logger:      logger,
		startedAt:   time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the event feed is long-lived
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/transcript", s.handleTranscript)
		r.Post("/interrupt", s.handleInterrupt)
		r.Get("/status", s.handleStatus)
		r.Get("/tools", s.handleTools)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
