// Package api serves trip statistics over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"tidbyt.dev/tripstats"
	"tidbyt.dev/tripstats/metrics"
	"tidbyt.dev/tripstats/storage"
)

type RouterConfig struct {
	Version    string
	Logger     zerolog.Logger
	Statistics *tripstats.Statistics
	Storage    storage.Storage

	// Optional. Enables /metrics and request metrics.
	Metrics *metrics.Collector

	// Requests per minute per client IP on /api. Zero disables.
	RateLimit int

	// Defaults to time.Now.
	TimeNow func() time.Time
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	timeNow := cfg.TimeNow
	if timeNow == nil {
		timeNow = time.Now
	}

	r := chi.NewRouter()

	r.Use(RequestID)
	if cfg.Metrics != nil {
		r.Use(Metrics(cfg.Metrics))
	}
	r.Use(Logger(cfg.Logger))
	r.Use(Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, newProblem(ProblemTypeNotFound, "Not found", http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, newProblem(ProblemTypeMethod, "Method not allowed", http.StatusMethodNotAllowed))
	})

	health := &healthHandler{storage: cfg.Storage, version: cfg.Version, timeNow: timeNow}
	r.Get("/health", health.health)
	r.Get("/ready", health.ready)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	trips := &tripHandler{
		statistics: cfg.Statistics,
		storage:    cfg.Storage,
		timeNow:    timeNow,
		logger:     cfg.Logger,
	}

	r.Route("/api/trips", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(RateLimitByIP(cfg.RateLimit, time.Minute))
		}
		r.Get("/routes", trips.listRoutes)
		r.Get("/find/{route_id}", trips.findTrips)
	})

	return r
}
