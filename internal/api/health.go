package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/groupmind/internal/llm"
	"github.com/ashureev/groupmind/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo store.Repository
	text llm.HealthChecker
}

// NewHealthHandler creates a health handler. text may be nil when the text
// backend cannot report its health.
func NewHealthHandler(repo store.Repository, text llm.HealthChecker) *HealthHandler {
	return &HealthHandler{repo: repo, text: text}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "dependency", "database", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.text != nil {
		if err := h.text.Health(ctx); err != nil {
			slog.Warn("Health check failed", "dependency", "text_backend", "error", err)
			status["status"] = "degraded"
			checks["text_backend"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["text_backend"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
