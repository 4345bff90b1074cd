package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/storyviews/internal/health"
)

// readyTimeout bounds the dependency checks of a readiness probe.
const readyTimeout = 5 * time.Second

// HealthHandlers provides health and readiness check endpoints for Kubernetes probes.
type HealthHandlers struct {
	checkers []health.Checker
	logger   *slog.Logger
	now      func() time.Time
}

// HealthHandlersConfig configures the health check handlers.
type HealthHandlersConfig struct {
	// Checkers are run by the readiness probe. Unconfigured backends
	// (in-memory storage, no Redis) are simply left out.
	Checkers []health.Checker
	Logger   *slog.Logger
}

// NewHealthHandlers creates a new health check handler.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandlers{
		checkers: config.Checkers,
		logger:   logger,
		now:      time.Now,
	}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
// Returns 200 whenever the process can serve requests.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.Context(), http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": health.StatusOK},
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe).
// Returns 503 if any configured backing store is unavailable.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	result := health.CheckAll(ctx, h.logger, h.checkers...)
	result.Checks["metrics"] = health.StatusOK

	status, code := "healthy", http.StatusOK
	if !result.Healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, r.Context(), code, HealthResponse{
		Status:    status,
		Checks:    result.Checks,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}
