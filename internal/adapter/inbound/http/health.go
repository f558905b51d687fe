// Package http provides the HTTP transport adapter for the
// authorization core's Request Pipeline Gate.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/velro/authz-core/internal/adapter/outbound/memory"
	"github.com/velro/authz-core/internal/service/auditpipeline"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health.
type HealthChecker struct {
	sessionStore *memory.MemorySessionStore
	rateLimiter  *memory.MemoryRateLimiter
	pipeline     *auditpipeline.Pipeline
	version      string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(
	sessionStore *memory.MemorySessionStore,
	rateLimiter *memory.MemoryRateLimiter,
	pipeline *auditpipeline.Pipeline,
	version string,
) *HealthChecker {
	return &HealthChecker{
		sessionStore: sessionStore,
		rateLimiter:  rateLimiter,
		pipeline:     pipeline,
		version:      version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.sessionStore != nil {
		_ = h.sessionStore.Size()
		checks["session_store"] = "ok"
	} else {
		checks["session_store"] = "not configured"
	}

	if h.rateLimiter != nil {
		_ = h.rateLimiter.Size()
		checks["rate_limiter"] = "ok"
	} else {
		checks["rate_limiter"] = "not configured"
	}

	if h.pipeline != nil {
		depth := h.pipeline.ChannelDepth()
		capacity := h.pipeline.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.pipeline.DroppedEvents(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
