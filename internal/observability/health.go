package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports whether one dependency is healthy. It must be cheap:
// readiness probes call every registered check on each request.
type CheckFunc func() error

// HealthChecker backs the /healthz and /readyz probes. Liveness is
// process-up only; readiness additionally requires SetReady(true) and
// every registered dependency check passing.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// RegisterCheck adds a named dependency check to the readiness probe.
func (h *HealthChecker) RegisterCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
}

// SetReady marks the service as ready to accept traffic. Startup sets
// this after recovery completes; it is never cleared on dependency
// failures, those surface through the checks instead.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// runChecks evaluates every registered check and returns per-dependency
// status strings, plus whether all passed.
func (h *HealthChecker) runChecks() (map[string]string, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]CheckFunc, len(names))
	for i, name := range names {
		fns[i] = h.checks[name]
	}
	h.mu.RUnlock()

	statuses := make(map[string]string, len(names))
	allOK := true
	for i, name := range names {
		if err := fns[i](); err != nil {
			statuses[name] = err.Error()
			allOK = false
		} else {
			statuses[name] = "ok"
		}
	}
	return statuses, allOK
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 when startup has completed and all
// dependency checks pass, 503 otherwise with per-dependency detail.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	statuses, checksOK := h.runChecks()
	ok := h.ready.Load() && checksOK

	status := "ready"
	code := http.StatusOK
	if !ok {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": statuses,
	})
}
