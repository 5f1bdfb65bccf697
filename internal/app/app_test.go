package app_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/phonocorrect/internal/app"
	"github.com/MrWong99/phonocorrect/internal/config"
	"github.com/MrWong99/phonocorrect/internal/correct"
	"github.com/MrWong99/phonocorrect/internal/observe"
	"github.com/MrWong99/phonocorrect/internal/resilience"
	"github.com/MrWong99/phonocorrect/internal/rules"
	"github.com/MrWong99/phonocorrect/pkg/kv"
	"github.com/MrWong99/phonocorrect/pkg/kv/file"
	"github.com/MrWong99/phonocorrect/pkg/kv/memory"
	"github.com/MrWong99/phonocorrect/pkg/kv/mock"
)

// testConfig returns a minimal config on the memory backend.
func testConfig() *config.Config {
	return &config.Config{
		LogLevel: config.LogInfo,
		Storage:  config.StorageConfig{Backend: config.BackendMemory},
	}
}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// newApp builds an App with test metrics and registers its shutdown.
func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	m, _ := testMetrics(t)
	opts = append([]app.Option{app.WithMetrics(m)}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// registryWith returns a registry serving s under the redis backend name.
func registryWith(s kv.Store) *config.Registry {
	r := config.NewRegistry()
	r.Register(config.BackendRedis, func(context.Context, config.StorageConfig) (kv.Store, error) {
		return s, nil
	})
	return r
}

func float(v float64) *float64 { return &v }

func findSuggestion(ss []correct.Suggestion, original string) (correct.Suggestion, bool) {
	for _, s := range ss {
		if s.Original == original {
			return s, true
		}
	}
	return correct.Suggestion{}, false
}

// ── New ─────────────────────────────────────────────────────────────────────

func TestNew_MemoryBackend(t *testing.T) {
	t.Parallel()

	m, reader := testMetrics(t)
	a, err := app.New(context.Background(), testConfig(), app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Shutdown(context.Background())

	got := a.Engine().Analyze(context.Background(), "my fone")
	s, ok := findSuggestion(got, "fone")
	if !ok || s.Suggestion != "phone" {
		t.Fatalf("Analyze = %+v, want fone -> phone", got)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == "phonocorrect.storage.operations" {
				found = true
			}
		}
	}
	if !found {
		t.Error("storage operations were not instrumented")
	}
}

// Not parallel: InitProvider replaces the global OTel providers.
func TestNew_DefaultTelemetry(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	a, err := app.New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() without WithMetrics: %v", err)
	}

	got := a.Engine().Analyze(context.Background(), "my fone")
	if _, ok := findSuggestion(got, "fone"); !ok {
		t.Errorf("Analyze = %+v, want a suggestion for fone", got)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
}

func TestNew_EmptyBackendDefaultsToMemory(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Backend = ""
	a := newApp(t, cfg)
	if a.Store() == nil {
		t.Fatal("Store() = nil")
	}
}

func TestNew_WithStore(t *testing.T) {
	t.Parallel()

	store := mock.New()
	a := newApp(t, testConfig(), app.WithStore(store))

	if _, err := a.Engine().CreateRule(context.Background(), rules.Rule{Pattern: "teh", Replacement: "the", Enabled: true}); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if _, ok := store.Raw(rules.KeyCustomRules); !ok {
		t.Error("custom rules were not persisted to the injected store")
	}
	if a.Store() != kv.Store(store) {
		t.Error("Store() should return the injected store unwrapped")
	}
}

func TestNew_FileBackendPersistsAcrossRestarts(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage = config.StorageConfig{
		Backend: config.BackendFile,
		Path:    filepath.Join(t.TempDir(), "rules.json"),
	}

	m, _ := testMetrics(t)
	first, err := app.New(context.Background(), cfg, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	created, err := first.Engine().CreateRule(context.Background(), rules.Rule{
		Pattern: "teh", Replacement: "the", Description: "Transposed letters", Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := first.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	second := newApp(t, cfg)
	custom := second.Engine().ListRules(rules.ListOptions{CustomOnly: true})
	if len(custom) != 1 || custom[0].ID != created.ID {
		t.Fatalf("custom rules after restart = %+v, want [%s]", custom, created.ID)
	}
	got := second.Engine().Analyze(context.Background(), "teh cat")
	if s, ok := findSuggestion(got, "teh"); !ok || s.Suggestion != "the" {
		t.Errorf("Analyze = %+v, want teh -> the", got)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	t.Parallel()

	m, _ := testMetrics(t)
	_, err := app.New(context.Background(), testConfig(),
		app.WithMetrics(m),
		app.WithRegistry(config.NewRegistry()),
	)
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Fatalf("New() error = %v, want ErrBackendNotRegistered", err)
	}
}

func TestNew_LoadFailure(t *testing.T) {
	t.Parallel()

	broken := mock.New()
	broken.GetErr = errors.New("connection refused")

	cfg := testConfig()
	cfg.Storage = config.StorageConfig{
		Backend: config.BackendRedis,
		Redis:   config.RedisConfig{Addr: "localhost:6379"},
	}

	m, _ := testMetrics(t)
	_, err := app.New(context.Background(), cfg, app.WithMetrics(m), app.WithRegistry(registryWith(broken)))
	if err == nil {
		t.Fatal("New() should fail when the backend cannot be read")
	}
}

func TestNew_FallbackServesBrokenPrimary(t *testing.T) {
	t.Parallel()

	broken := mock.New()
	broken.GetErr = errors.New("connection refused")
	broken.SetErr = errors.New("connection refused")

	fallbackPath := filepath.Join(t.TempDir(), "fallback.json")
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{
		Backend:      config.BackendRedis,
		FallbackPath: fallbackPath,
		Redis:        config.RedisConfig{Addr: "localhost:6379"},
	}

	a := newApp(t, cfg, app.WithRegistry(registryWith(broken)))
	if _, err := a.Engine().CreateRule(context.Background(), rules.Rule{Pattern: "teh", Replacement: "the", Enabled: true}); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	if _, err := file.New(fallbackPath).Get(context.Background(), rules.KeyCustomRules); err != nil {
		t.Errorf("fallback file has no custom rules: %v", err)
	}
}

func TestNew_DisabledBuiltins(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Engine.DisabledBuiltins = []string{"fone", rules.BuiltinPrefix + "thru"}
	a := newApp(t, cfg)

	if got := a.Engine().Analyze(context.Background(), "fone thru"); len(got) != 0 {
		t.Errorf("Analyze = %+v, want no suggestions from disabled built-ins", got)
	}
	if got := a.Engine().Analyze(context.Background(), "foto"); len(got) != 1 {
		t.Errorf("Analyze(foto) = %+v, want one suggestion", got)
	}
	if st := a.Engine().Stats(); st.Disabled != 2 {
		t.Errorf("Stats().Disabled = %d, want 2", st.Disabled)
	}
}

func TestNew_PhoneticVocabulary(t *testing.T) {
	t.Parallel()

	vocabFile := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(vocabFile, []byte("# furniture\ntable\n\nchair\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Engine.Phonetic = config.PhoneticConfig{
		Vocabulary:     []string{"receipt"},
		VocabularyFile: vocabFile,
	}
	a := newApp(t, cfg)

	got := a.Engine().Analyze(context.Background(), "the tabel")
	s, ok := findSuggestion(got, "tabel")
	if !ok {
		t.Fatalf("Analyze = %+v, want a suggestion for tabel", got)
	}
	if s.Suggestion != "table" || s.Tier != correct.TierPhonetic {
		t.Errorf("suggestion = %+v, want phonetic table", s)
	}
}

func TestNew_MissingVocabularyFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Engine.Phonetic.VocabularyFile = filepath.Join(t.TempDir(), "missing.txt")

	m, _ := testMetrics(t)
	if _, err := app.New(context.Background(), cfg, app.WithMetrics(m)); err == nil {
		t.Fatal("New() should fail on a missing vocabulary file")
	}
}

func TestNew_SetsLogLevel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.LogLevel = config.LogDebug
	var lv slog.LevelVar
	newApp(t, cfg, app.WithLogLevel(&lv))

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
}

// ── Reload ──────────────────────────────────────────────────────────────────

func TestReload_AppliesHotFields(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	a := newApp(t, testConfig(), app.WithLogLevel(&lv))
	ctx := context.Background()

	if got := a.Engine().Analyze(ctx, "the tabel"); len(got) != 0 {
		t.Fatalf("Analyze before reload = %+v, want none", got)
	}

	next := testConfig()
	next.LogLevel = config.LogWarn
	next.Engine.ConfidenceFloor = float(0.9)
	next.Engine.Phonetic.Vocabulary = []string{"table"}
	if err := a.Reload(next); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if lv.Level() != slog.LevelWarn {
		t.Errorf("level = %v, want warn", lv.Level())
	}
	if a.Config() != next {
		t.Error("Config() should return the reloaded config")
	}
	if _, ok := findSuggestion(a.Engine().Analyze(ctx, "the tabel"), "tabel"); !ok {
		t.Error("reloaded vocabulary not applied")
	}
	// "u" carries 0.7 base confidence, below the new floor.
	if _, ok := findSuggestion(a.Engine().Analyze(ctx, "see u"), "u"); ok {
		t.Error("reloaded confidence floor not applied")
	}
}

func TestReload_RestartOnlyFieldsAreAdopted(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig())
	before := a.Store()

	next := testConfig()
	next.Storage.Backend = config.BackendFile
	next.Storage.Path = filepath.Join(t.TempDir(), "rules.json")
	if err := a.Reload(next); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if a.Store() != before {
		t.Error("storage must not be swapped on reload")
	}
	if a.Config() != next {
		t.Error("Config() should return the reloaded config")
	}
}

func TestReload_VocabularyErrorKeepsConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	a := newApp(t, cfg)

	next := testConfig()
	next.Engine.Phonetic.VocabularyFile = filepath.Join(t.TempDir(), "missing.txt")
	if err := a.Reload(next); err == nil {
		t.Fatal("Reload should fail on a missing vocabulary file")
	}
	if a.Config() != cfg {
		t.Error("failed reload must keep the previous config")
	}
}

// ── Watch ───────────────────────────────────────────────────────────────────

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "phonocorrect.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var lv slog.LevelVar
	a := newApp(t, testConfig(), app.WithLogLevel(&lv))
	if err := a.Watch(path, config.WithDebounce(10*time.Millisecond)); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := a.Watch(path); err == nil {
		t.Error("second Watch should fail")
	}

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for lv.Level() != slog.LevelDebug {
		if time.Now().After(deadline) {
			t.Fatalf("level = %v after file change, want debug", lv.Level())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatch_ConcurrentCallsInstallOneWatcher(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "phonocorrect.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := newApp(t, testConfig())

	const n = 8
	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Watch(path); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := ok.Load(); got != 1 {
		t.Errorf("%d of %d concurrent Watch calls succeeded, want 1", got, n)
	}
}

// ── Shutdown ────────────────────────────────────────────────────────────────

func TestApp_ShutdownIdempotent(t *testing.T) {
	t.Parallel()

	m, _ := testMetrics(t)
	a, err := app.New(context.Background(), testConfig(), app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_ShutdownDeadline(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "phonocorrect.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, _ := testMetrics(t)
	a, err := app.New(context.Background(), testConfig(), app.WithMetrics(m), app.WithStore(memory.New()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := a.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() error = %v, want context.Canceled", err)
	}
}

// ── Health ──────────────────────────────────────────────────────────────────

func TestHealth_ReportsStorage(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig())
	rep := a.Health().Evaluate(context.Background())
	if !rep.OK() || rep.Checks["storage"] != "ok" {
		t.Errorf("report = %+v, want storage ok", rep)
	}
}

func TestHealth_OpenBreakerFails(t *testing.T) {
	t.Parallel()

	store := mock.New()
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{
		Backend: config.BackendRedis,
		Redis:   config.RedisConfig{Addr: "localhost:6379"},
		Breaker: config.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	}
	a := newApp(t, cfg, app.WithRegistry(registryWith(store)))

	store.GetErr = errors.New("connection refused")
	rep := a.Health().Evaluate(context.Background())
	if rep.OK() {
		t.Fatalf("report = %+v, want fail", rep)
	}
	if got := rep.Checks["breaker:redis"]; got == "" {
		t.Errorf("report = %+v, want a breaker check", rep)
	}
}

func TestHealth_FallbackChecksEntryBreakers(t *testing.T) {
	t.Parallel()

	store := mock.New()
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{
		Backend:      config.BackendRedis,
		Redis:        config.RedisConfig{Addr: "localhost:6379"},
		Breaker:      config.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		FallbackPath: filepath.Join(t.TempDir(), "fallback.json"),
	}
	a := newApp(t, cfg, app.WithRegistry(registryWith(store)))

	if _, ok := a.Store().(*resilience.FallbackStore); !ok {
		t.Fatalf("Store() = %T, want *resilience.FallbackStore", a.Store())
	}

	// One failed read trips the primary entry; the file fallback answers.
	store.GetErr = errors.New("connection refused")
	if _, err := a.Store().Get(context.Background(), "missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get through fallback = %v, want ErrNotFound", err)
	}

	rep := a.Health().Evaluate(context.Background())
	if rep.Checks["storage"] != "ok" {
		t.Errorf("storage = %q, want ok while the fallback serves", rep.Checks["storage"])
	}
	if got := rep.Checks["breaker:redis"]; !strings.HasPrefix(got, "fail") {
		t.Errorf("breaker:redis = %q, want fail", got)
	}
	if got := rep.Checks["breaker:file-fallback"]; got != "ok" {
		t.Errorf("breaker:file-fallback = %q, want ok", got)
	}
}
