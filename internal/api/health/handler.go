package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"trendboard/internal/workers"
	"trendboard/pkg/logger"
)

// Checker is a dependency that can report its connectivity
type Checker interface {
	Health(ctx context.Context) error
}

// Component is one checked dependency. Optional components degrade the
// service instead of failing readiness.
type Component struct {
	Name     string
	Checker  Checker
	Optional bool
}

// WorkerReporter exposes background worker health
type WorkerReporter interface {
	Health() map[string]workers.WorkerHealth
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	components  []Component
	workers     WorkerReporter
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a new health check handler. reporter may be nil.
func New(log *logger.Logger, serviceName, version string, reporter WorkerReporter, components ...Component) *Handler {
	return &Handler{
		log:         log,
		components:  components,
		workers:     reporter,
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                          `json:"status"` // "healthy", "degraded", "unhealthy"
	Service   string                          `json:"service"`
	Version   string                          `json:"version"`
	Uptime    string                          `json:"uptime"`
	Timestamp string                          `json:"timestamp"`
	Checks    map[string]ComponentHealth      `json:"checks"`
	Workers   map[string]workers.WorkerHealth `json:"workers,omitempty"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK if service is running
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness fails with 503 when a required dependency is down
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, requiredDown, _ := h.check(ctx)

	statusCode := http.StatusOK
	if requiredDown > 0 {
		status.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", status.Checks)
	}
	writeJSON(w, statusCode, status)
}

// HandleHealth returns detailed health status including worker history
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status, requiredDown, optionalDown := h.check(ctx)
	if h.workers != nil {
		status.Workers = h.workers.Health()
	}

	statusCode := http.StatusOK
	switch {
	case requiredDown > 0:
		status.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case optionalDown > 0:
		status.Status = "degraded"
	}
	writeJSON(w, statusCode, status)
}

func (h *Handler) check(ctx context.Context) (status HealthStatus, requiredDown, optionalDown int) {
	status = HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentHealth, len(h.components)),
	}
	for _, c := range h.components {
		res := h.checkComponent(ctx, c)
		status.Checks[c.Name] = res
		if res.Status == "healthy" {
			continue
		}
		if c.Optional {
			optionalDown++
		} else {
			requiredDown++
		}
	}
	return status, requiredDown, optionalDown
}

func (h *Handler) checkComponent(ctx context.Context, c Component) ComponentHealth {
	start := time.Now()
	err := c.Checker.Health(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("health check failed", "component", c.Name, "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       "unhealthy",
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}
	return ComponentHealth{
		Status:       "healthy",
		ResponseTime: elapsed.String(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
