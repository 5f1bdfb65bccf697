// Package health reports whether the correction engine's dependencies can
// serve requests.
//
// [Handler.Evaluate] runs every registered [Checker] and returns a [Report].
// Hosts that expose HTTP can mount the same checks with [Handler.Register]:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when all checks pass.
//   - /metrics: Prometheus exposition of the default registry.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/phonocorrect/internal/resilience"
	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// probeKey is read by [StoreChecker]. It is never written.
const probeKey = "phonocorrect-health-probe"

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "storage",
	// "breaker"). It appears as a key in the report.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StoreChecker probes s with a read of a key that never exists. A
// [kv.ErrNotFound] answer proves the backend is reachable.
func StoreChecker(name string, s kv.Store) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		_, err := s.Get(ctx, probeKey)
		if err == nil || errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return err
	}}
}

// BreakerChecker fails while b is open.
func BreakerChecker(b *resilience.CircuitBreaker) Checker {
	return Checker{Name: "breaker:" + b.Name(), Check: func(context.Context) error {
		if b.State() == resilience.StateOpen {
			return fmt.Errorf("circuit %q is open", b.Name())
		}
		return nil
	}}
}

// Report is the outcome of one evaluation.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == "ok" }

// Handler evaluates a fixed set of checkers. It is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Evaluate runs all checkers concurrently, each under a [checkTimeout]
// deadline derived from ctx.
func (h *Handler) Evaluate(ctx context.Context) Report {
	results := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			if err := cctx.Err(); err != nil {
				results[i] = err
				return
			}
			results[i] = c.Check(cctx)
		}()
	}
	wg.Wait()

	rep := Report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		if err := results[i]; err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = "fail"
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	return rep
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when [Handler.Evaluate]
// reports every check passing.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register adds the /healthz, /readyz and /metrics routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
