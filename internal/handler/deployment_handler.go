// Package handler provides the read-only HTTP API over the deployment
// registry.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Bidon15/popdeploy/internal/pkg/response"
	"github.com/Bidon15/popdeploy/internal/registry"
)

// DeploymentHandler serves deployment records.
type DeploymentHandler struct {
	registry registry.Registry
	logger   *slog.Logger
}

// NewDeploymentHandler creates a new deployment handler.
func NewDeploymentHandler(reg registry.Registry, logger *slog.Logger) *DeploymentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeploymentHandler{registry: reg, logger: logger}
}

// Routes returns a chi router with deployment routes.
func (h *DeploymentHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/{network}/{contract}", h.Get)
	r.Get("/{network}/{contract}/history", h.History)

	return r
}

// List handles GET /v1/deployments?network=&status=
// Corrupted entries are reported in meta.errors; the rest are still served.
func (h *DeploymentHandler) List(w http.ResponseWriter, r *http.Request) {
	network := r.URL.Query().Get("network")
	status := registry.Status(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		response.BadRequest(w, "status must be pending, confirmed or failed")
		return
	}

	records, err := h.registry.List(r.Context())
	meta := &response.Meta{}
	if err != nil {
		if !errors.Is(err, registry.ErrCorrupted) {
			h.logger.Error("list deployments", slog.String("error", err.Error()))
			response.Error(w, response.ErrServiceUnavailable)
			return
		}
		meta.Errors = corruptedKeys(err)
	}

	out := make([]*registry.Record, 0, len(records))
	for _, rec := range records {
		if network != "" && rec.Network != network {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	meta.Total = len(out)

	response.JSONWithMeta(w, http.StatusOK, out, meta)
}

// Get handles GET /v1/deployments/{network}/{contract}
func (h *DeploymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	network, contract := chi.URLParam(r, "network"), chi.URLParam(r, "contract")

	rec, err := h.registry.Lookup(r.Context(), network, contract)
	if err != nil {
		h.writeLookupError(w, network, contract, err)
		return
	}
	response.OK(w, rec)
}

// History handles GET /v1/deployments/{network}/{contract}/history
func (h *DeploymentHandler) History(w http.ResponseWriter, r *http.Request) {
	network, contract := chi.URLParam(r, "network"), chi.URLParam(r, "contract")

	history, err := h.registry.History(r.Context(), network, contract)
	if err != nil {
		h.writeLookupError(w, network, contract, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, history, &response.Meta{Total: len(history)})
}

func (h *DeploymentHandler) writeLookupError(w http.ResponseWriter, network, contract string, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		response.NotFound(w, "deployment "+registry.Key(network, contract))
	case errors.Is(err, registry.ErrCorrupted):
		h.logger.Error("corrupted registry entry",
			slog.String("key", registry.Key(network, contract)),
			slog.String("error", err.Error()),
		)
		response.Error(w, response.ErrInternal.WithMessage("registry entry is corrupted"))
	default:
		h.logger.Error("lookup deployment",
			slog.String("key", registry.Key(network, contract)),
			slog.String("error", err.Error()),
		)
		response.Error(w, response.ErrServiceUnavailable)
	}
}

// corruptedKeys lists the keys named by the corruption errors joined in err.
func corruptedKeys(err error) []string {
	var keys []string
	var walk func(error)
	walk = func(err error) {
		var corrupt *registry.RegistryCorruptionError
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
			return
		}
		if errors.As(err, &corrupt) {
			keys = append(keys, corrupt.Key)
		}
	}
	walk(err)
	return keys
}

func isNotFound(err error) bool {
	return errors.Is(err, registry.ErrNotFound)
}
