package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"costwatch/internal/workers"
	"costwatch/pkg/logger"
)

// Checker pings one dependency
type Checker interface {
	Health(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context) error

// Health implements Checker
func (f CheckerFunc) Health(ctx context.Context) error { return f(ctx) }

// WorkerReporter exposes background worker health
type WorkerReporter interface {
	Health() map[string]workers.WorkerHealth
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	checks      map[string]Checker
	workers     WorkerReporter
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a new health check handler. Only the dependencies actually
// wired into the engine are passed in checks; workers may be nil.
func New(
	log *logger.Logger,
	checks map[string]Checker,
	workerReporter WorkerReporter,
	serviceName string,
	version string,
) *Handler {
	if log == nil {
		log = logger.Get()
	}
	if checks == nil {
		checks = make(map[string]Checker)
	}
	return &Handler{
		log:         log.With("component", "health"),
		checks:      checks,
		workers:     workerReporter,
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
// Used by Kubernetes liveness probe
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

// HandleReadiness fails when any wired dependency is down
// Used by Kubernetes readiness probe
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, healthy, _ := h.evaluate(ctx)

	statusCode := http.StatusOK
	if healthy < len(status.Checks) {
		status.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", status.Checks)
	}

	writeJSON(w, statusCode, status)
}

// HandleHealth returns detailed health status including worker runs
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status, healthy, total := h.evaluate(ctx)
	if h.workers != nil {
		status.Workers = h.workers.Health()
	}

	statusCode := http.StatusOK
	switch {
	case total > 0 && healthy == 0:
		status.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case healthy < total:
		status.Status = "degraded" // still 200
	}

	writeJSON(w, statusCode, status)
}

func (h *Handler) evaluate(ctx context.Context) (HealthStatus, int, int) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]ComponentHealth, len(names))
	healthy := 0
	for _, name := range names {
		ch := h.check(ctx, name, h.checks[name])
		checks[name] = ch
		if ch.Status == "healthy" {
			healthy++
		}
	}

	return HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    checks,
	}, healthy, len(names)
}

func (h *Handler) check(ctx context.Context, name string, c Checker) ComponentHealth {
	start := time.Now()
	err := c.Health(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("Health check failed", "component", name, "error", err, "elapsed", elapsed)
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

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
