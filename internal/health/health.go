// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const checkTimeout = 5 * time.Second

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names one readiness dependency.
type Check struct {
	Name   string
	Pinger Pinger
}

// HealthCheck answers liveness and readiness probes.
type HealthCheck struct {
	checks []Check
	logger *zap.Logger
}

// NewHealthCheck creates a new HealthCheck instance.
func NewHealthCheck(logger *zap.Logger, checks ...Check) *HealthCheck {
	return &HealthCheck{checks: checks, logger: logger}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests.
// Returns 200 OK when every dependency answers a ping.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(hc.checks))}
	status := http.StatusOK

	for _, c := range hc.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			hc.logger.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
			resp.Checks[c.Name] = "unhealthy"
			resp.Status = "not_ready"
			resp.Error = c.Name + " is unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "healthy"
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
