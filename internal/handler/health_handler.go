package handler

import (
	"context"
	"net/http"
	"time"

	"pulse-api/pkg/logger"
)

// HealthChecker is a dependency the service needs to be useful
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	checks  map[string]HealthChecker
	version string
	logger  *logger.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checks map[string]HealthChecker, version string, log *logger.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, version: version, logger: log.Named("health")}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Service   string            `json:"service"`
	Checks    map[string]string `json:"checks"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Service:   "pulse-api",
		Checks:    make(map[string]string, len(h.checks)),
	}
	status := http.StatusOK

	for name, check := range h.checks {
		if err := check.Health(ctx); err != nil {
			h.logger.WithError(err).WithField("dependency", name).Warn("Health check failed")
			response.Checks[name] = "unhealthy"
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Checks[name] = "ok"
	}

	respondJSON(w, status, response)
}
