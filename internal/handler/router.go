package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Bidon15/popdeploy/internal/middleware"
	"github.com/Bidon15/popdeploy/internal/pkg/response"
	"github.com/Bidon15/popdeploy/internal/registry"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Registry    registry.Registry
	Logger      *slog.Logger
	CORSOrigins []string
}

// NewRouter builds the HTTP API: /health, /metrics and /v1/deployments.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", healthHandler(cfg.Registry))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Mount("/deployments", NewDeploymentHandler(cfg.Registry, logger).Routes())
	})

	return r
}

// healthHandler reports whether the registry answers.
func healthHandler(reg registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if _, err := reg.Lookup(ctx, "health", "probe"); err != nil && !isNotFound(err) {
			response.JSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		response.OK(w, map[string]string{"status": "ok"})
	}
}
