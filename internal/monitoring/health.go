package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

var startTime = time.Now()

// Probe reports an error when a dependency the gate relies on is unreadable.
type Probe func(ctx context.Context) error

type HealthChecker struct {
	mu      sync.RWMutex
	probes  map[string]Probe
	timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
	Errors    []string          `json:"errors,omitempty"`
}

func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &HealthChecker{
		probes:  make(map[string]Probe),
		timeout: timeout,
	}
}

// Register adds a named probe.
func (h *HealthChecker) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// Check runs every probe and returns the aggregated status.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	probes := h.probes
	h.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(startTime).String(),
		Checks:    make(map[string]string, len(names)),
	}

	for _, name := range names {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := probes[name](probeCtx)
		cancel()
		if err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = "failing"
			status.Errors = append(status.Errors, name+": "+err.Error())
			continue
		}
		status.Checks[name] = "ok"
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}
