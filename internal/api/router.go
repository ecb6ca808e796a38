package api

import (
	"github.com/ayo6706/merchant-settlement/internal/api/handler"
	"github.com/ayo6706/merchant-settlement/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router serves the operational surface of the settlement service.
type Router struct {
	logger *zap.Logger
	health *handler.HealthHandler
	ops    *handler.OpsHandler
	rps    int
}

func NewRouter(logger *zap.Logger, health *handler.HealthHandler, ops *handler.OpsHandler, rps int) *Router {
	return &Router{logger: logger, health: health, ops: ops, rps: rps}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	r.Get("/health/live", api.health.Live)
	r.Get("/health/ready", api.health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.rps))
		r.Get("/ops/status", api.ops.Status)
	})

	return r
}
