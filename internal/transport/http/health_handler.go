package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// Pinger verifies the storage backend is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint
type HealthHandler struct {
	store   Pinger
	version string
	logger  *slog.Logger
}

// NewHealthHandler creates the health handler
func NewHealthHandler(store Pinger, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:   store,
		version: version,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Health handles GET /healthz
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.ErrorContext(r.Context(), "health check store ping failed",
			slog.String("error", err.Error()))
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	render.Status(r, code)
	render.JSON(w, r, map[string]interface{}{
		"status":    status,
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
