package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/phonocorrect/internal/health"
	"github.com/MrWong99/phonocorrect/internal/resilience"
	"github.com/MrWong99/phonocorrect/pkg/kv/memory"
	"github.com/MrWong99/phonocorrect/pkg/kv/mock"
)

func ok(name string) health.Checker {
	return health.Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failing(name, msg string) health.Checker {
	return health.Checker{Name: name, Check: func(context.Context) error { return errors.New(msg) }}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) health.Report {
	t.Helper()
	var body health.Report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []health.Checker
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: "ok",
			wantChecks: map[string]string{},
		},
		{
			name:       "all pass",
			checkers:   []health.Checker{ok("storage"), ok("breaker")},
			wantStatus: "ok",
			wantChecks: map[string]string{"storage": "ok", "breaker": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []health.Checker{failing("storage", "connection refused"), ok("breaker")},
			wantStatus: "fail",
			wantChecks: map[string]string{"storage": "fail: connection refused", "breaker": "ok"},
		},
		{
			name:       "all fail",
			checkers:   []health.Checker{failing("storage", "timeout"), failing("breaker", "open")},
			wantStatus: "fail",
			wantChecks: map[string]string{"storage": "fail: timeout", "breaker": "fail: open"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rep := health.New(tc.checkers...).Evaluate(context.Background())
			if rep.Status != tc.wantStatus {
				t.Errorf("Status = %q, want %q", rep.Status, tc.wantStatus)
			}
			if len(rep.Checks) != len(tc.wantChecks) {
				t.Fatalf("Checks = %v, want %v", rep.Checks, tc.wantChecks)
			}
			for k, want := range tc.wantChecks {
				if rep.Checks[k] != want {
					t.Errorf("Checks[%q] = %q, want %q", k, rep.Checks[k], want)
				}
			}
		})
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if rep := h.Evaluate(ctx); rep.OK() {
		t.Errorf("Evaluate on a cancelled context = %+v, want fail", rep)
	}
}

func TestStoreChecker(t *testing.T) {
	t.Parallel()

	if err := health.StoreChecker("memory", memory.New()).Check(context.Background()); err != nil {
		t.Errorf("memory store check = %v, want nil", err)
	}

	broken := mock.New()
	broken.GetErr = errors.New("connection refused")
	if err := health.StoreChecker("broken", broken).Check(context.Background()); err == nil {
		t.Error("broken store check = nil, want error")
	}
	if broken.CallCount("Set") != 0 {
		t.Error("StoreChecker must not write")
	}
}

func TestBreakerChecker(t *testing.T) {
	t.Parallel()

	b := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "redis",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	c := health.BreakerChecker(b)
	if c.Name != "breaker:redis" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("closed breaker check = %v, want nil", err)
	}

	_ = b.Execute(func() error { return errors.New("boom") })
	if err := c.Check(context.Background()); err == nil {
		t.Error("open breaker check = nil, want error")
	}
}

// ── HTTP ────────────────────────────────────────────────────────────────────

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	h := health.New(failing("storage", "down"))
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []health.Checker
		want     int
	}{
		{"pass", []health.Checker{ok("storage")}, http.StatusOK},
		{"fail", []health.Checker{ok("storage"), failing("breaker", "open")}, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			health.New(tc.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			if body := decode(t, rec); len(body.Checks) != len(tc.checkers) {
				t.Errorf("checks = %v", body.Checks)
			}
		})
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	health.New(ok("storage")).Register(mux)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}
