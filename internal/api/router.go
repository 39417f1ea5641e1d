// Package api assembles the HTTP surface of the exchange.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/go-padnext/internal/api/handlers"
	"github.com/drfirst/go-padnext/internal/api/middleware"
)

// Version is reported by the health endpoints
const Version = "1.0.0"

// RouterConfig configures NewRouter
type RouterConfig struct {
	ServiceName  string
	APIKeys      map[string]string
	MaxBodyBytes int64
	// Checks run on /ready
	Checks map[string]handlers.ReadinessCheck
	// Metrics serves /metrics when set
	Metrics http.Handler
}

// NewRouter wires middleware, the health endpoints and the /api/v1 routes
func NewRouter(cfg RouterConfig, deliveries *handlers.DeliveryHandler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))

	// no auth
	r.Get("/health", handlers.Health(cfg.ServiceName, Version))
	r.Get("/ready", handlers.Ready(cfg.ServiceName, Version, cfg.Checks))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
		r.Mount("/", deliveries.Routes())
	})

	return r
}
