// Package health serves liveness and readiness for the address service.
//
// Readiness separates critical checks, whose failure means requests cannot
// be served at all, from tier checks, whose failure only degrades service:
// the local tier keeps answering when the remote tiers are unreachable.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker reports a dependency's health. A nil error means up.
type Checker func(ctx context.Context) error

// Status is the state of one check or of the whole service.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Response is the body of both endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one dependency's outcome.
type CheckResult struct {
	Status   Status `json:"status"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
	Latency  string `json:"latency"`
}

type registration struct {
	check    Checker
	critical bool
}

// Handler holds the registered checks.
type Handler struct {
	mu      sync.RWMutex
	checks  map[string]registration
	timeout time.Duration
	now     func() time.Time
}

// NewHandler returns a Handler whose readiness run is bounded by five
// seconds.
func NewHandler() *Handler {
	return &Handler{
		checks:  make(map[string]registration),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// RegisterCritical adds a check that takes the service out of rotation when
// it fails.
func (h *Handler) RegisterCritical(name string, c Checker) {
	h.add(name, registration{check: c, critical: true})
}

// RegisterNonCritical adds a check that only marks the service degraded.
func (h *Handler) RegisterNonCritical(name string, c Checker) {
	h.add(name, registration{check: c})
}

func (h *Handler) add(name string, reg registration) {
	h.mu.Lock()
	h.checks[name] = reg
	h.mu.Unlock()
}

func (h *Handler) snapshot() map[string]registration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]registration, len(h.checks))
	for name, reg := range h.checks {
		out[name] = reg
	}
	return out
}

// LivenessHandler answers 200 while the process can serve HTTP.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		write(w, http.StatusOK, Response{Status: StatusUp, Timestamp: h.now().UTC()})
	}
}

// ReadinessHandler runs every check in parallel. Any failing critical check
// answers 503; failing non-critical checks answer 200 with status degraded.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := h.run(r.Context())
		status := Summarize(results)
		code := http.StatusOK
		if status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		write(w, code, Response{Status: status, Timestamp: h.now().UTC(), Checks: results})
	}
}

func (h *Handler) run(ctx context.Context) map[string]CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	checks := h.snapshot()
	results := make(map[string]CheckResult, len(checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, reg := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := evaluate(ctx, reg)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func evaluate(ctx context.Context, reg registration) CheckResult {
	start := time.Now()
	err := reg.check(ctx)
	res := CheckResult{Status: StatusUp, Critical: reg.critical, Latency: time.Since(start).Round(time.Millisecond).String()}
	if err != nil {
		res.Status = StatusDown
		res.Error = err.Error()
	}
	return res
}

// Summarize folds check results into the service status.
func Summarize(results map[string]CheckResult) Status {
	status := StatusUp
	for _, res := range results {
		if res.Status != StatusDown {
			continue
		}
		if res.Critical {
			return StatusDown
		}
		status = StatusDegraded
	}
	return status
}

func write(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
