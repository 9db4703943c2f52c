// Package server exposes the gateway's HTTP surface: the inference route
// guarded by usage limiting, model listing, health, and the usage-limit
// admin endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/limiter"
	"github.com/modelgate/modelgate/internal/tokens"
)

type Server struct {
	Router *chi.Mux

	cfg       *config.Config
	limiter   *limiter.UsageLimiter
	transport Transport
	logger    *slog.Logger
	http      *http.Server
}

// New assembles the router. lim may be nil when usage limits are disabled.
func New(cfg *config.Config, lim *limiter.UsageLimiter, transport Transport, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		limiter:   lim,
		transport: transport,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(logger))
	r.Use(Timeout(30 * time.Second))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "modelgate")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/models", s.handleListModels)

	r.Group(func(gr chi.Router) {
		gr.Use(UsageLimit(lim, tokens.NewEstimator(), logger))
		gr.Post("/v1/inference", s.handleInference)
	})

	r.Route("/admin/usage-limits", func(ar chi.Router) {
		ar.Get("/metrics", s.handleLimiterMetrics)
		ar.Post("/invalidate", s.handleInvalidateAll)
		ar.Post("/invalidate/{user}", s.handleInvalidateUser)
	})

	s.Router = r
	return s
}

// Start begins serving in the background.
func (s *Server) Start() error {
	addr := s.cfg.Gateway.BindAddress
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		s.logger.Info("http server listening", slog.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
