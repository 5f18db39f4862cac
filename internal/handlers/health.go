package handlers

import (
	"net/http"
	"runtime"
	"time"

	"media-thumbnailer/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	// Dispatcher state
	InFlight    int64 `json:"inFlight"`
	Unwinding   int64 `json:"unwinding"`
	OpenHandles int64 `json:"openHandles"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service. Workers abandoned
// after a timeout and still running mark the service degraded.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	ready := h.IsReady()
	response := HealthResponse{
		Ready:        ready,
		Version:      startup.Version,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	if h.stats != nil {
		stats := h.stats.GetStats()
		response.InFlight = stats.InFlight
		response.Unwinding = stats.Unwinding
		response.OpenHandles = stats.OpenHandles
	}

	switch {
	case !ready:
		response.Status = statusStarting
	case response.Unwinding > 0:
		response.Status = statusDegraded
	default:
		response.Status = statusHealthy
	}

	// Return 503 only if not ready at all
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, code, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the service is ready to accept traffic
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if h.IsReady() {
		writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}
