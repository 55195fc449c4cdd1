// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the umlgrade daemon.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/umlgrade/umlgrade/internal/cache"
	"github.com/umlgrade/umlgrade/internal/config"
	"github.com/umlgrade/umlgrade/internal/tasks"
)

// Prober reports whether the PlantUML renderer is usable. Implemented by
// render.Runner.
type Prober interface {
	Probe(ctx context.Context) error
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	cfg       config.AppConfig
	store     tasks.Store
	queue     *tasks.Queue
	cache     cache.Cache
	prober    Prober
	reqrank   http.Handler
	startTime time.Time
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithProber wires the renderer probe used by the readiness check.
func WithProber(p Prober) Option {
	return func(s *Server) { s.prober = p }
}

// WithReqRank mounts the requirement ranking app under /reqrank.
func WithReqRank(h http.Handler) Option {
	return func(s *Server) { s.reqrank = h }
}

// New creates the API server. The caller owns the store and queue
// lifecycles.
func New(cfg config.AppConfig, store tasks.Store, queue *tasks.Queue, c cache.Cache, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		queue:     queue,
		cache:     c,
		startTime: time.Now(),
	}
	if s.cache == nil {
		s.cache = cache.NewNoOpCache()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the configured HTTP handler with all routes and
// middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(recoverer)
	r.Use(requestID)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(corsHeaders(s.cfg.AllowedOrigins))
	}
	r.Use(httpMetrics)
	r.Use(requestLogger)
	if s.cfg.RateLimitEnabled && s.cfg.RateLimitRPM > 0 {
		r.Use(httprate.Limit(
			s.cfg.RateLimitRPM,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Route("/tasks", func(r chi.Router) {
			r.With(requireToken(s.cfg.APIToken)).Post("/", s.handleSubmit)
			r.Get("/", s.handleList)
			r.Get("/{id}", s.handleGet)
			r.Get("/{id}/files/{kind}", s.handleDownload)
			r.With(requireToken(s.cfg.APIToken)).Delete("/{id}", s.handleDelete)
		})
	})

	if s.reqrank != nil {
		r.Mount("/reqrank", s.reqrank)
	}

	var h http.Handler = r
	if s.cfg.OTelEnabled {
		h = otelhttp.NewHandler(h, "umlgrade-api")
	}
	return h
}
