package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness probe.
type HealthHandler struct {
	redis Pinger
}

// NewHealthHandler creates a HealthHandler. redis may be nil when Redis is
// not configured.
func NewHealthHandler(redis Pinger) *HealthHandler {
	return &HealthHandler{redis: redis}
}

// HealthCheck reports that the process is serving, and whether Redis
// answers when it is configured.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if h.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.redis.Ping(ctx); err != nil {
			body["status"] = "degraded"
			body["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			body["redis"] = "ok"
		}
	}
	writeJSON(w, code, body)
}
