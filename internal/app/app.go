// Package app wires the phonocorrect subsystems into a running engine.
//
// The App struct owns the full lifecycle: New opens the storage chain and
// builds the correction engine, Reload applies hot-reloadable config changes,
// and Shutdown tears everything down in reverse order.
//
// For testing, inject a store or metrics via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/phonocorrect/internal/config"
	"github.com/MrWong99/phonocorrect/internal/correct"
	"github.com/MrWong99/phonocorrect/internal/correct/phonetic"
	"github.com/MrWong99/phonocorrect/internal/health"
	"github.com/MrWong99/phonocorrect/internal/observe"
	"github.com/MrWong99/phonocorrect/internal/resilience"
	"github.com/MrWong99/phonocorrect/internal/rules"
	"github.com/MrWong99/phonocorrect/pkg/kv"
	"github.com/MrWong99/phonocorrect/pkg/kv/file"
	"github.com/MrWong99/phonocorrect/pkg/kv/memory"
	"github.com/MrWong99/phonocorrect/pkg/kv/postgres"
	"github.com/MrWong99/phonocorrect/pkg/kv/redis"
)

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	registry *config.Registry
	store    kv.Store
	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	engine   *correct.Engine
	watcher  *config.Watcher
	checkers []health.Checker

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithStore injects the key-value store, bypassing the backend registry and
// the resilience wrappers.
func WithStore(s kv.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metrics instance instead of initialising the
// OpenTelemetry SDK.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry replaces [DefaultRegistry] for backend lookup.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogLevel hands New the level variable behind the process logger so
// that [App.Reload] can change verbosity without a restart.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// DefaultRegistry returns a registry with the memory, file, postgres and
// redis backends.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()
	r.Register(config.BackendMemory, func(_ context.Context, _ config.StorageConfig) (kv.Store, error) {
		return memory.New(), nil
	})
	r.Register(config.BackendFile, func(_ context.Context, cfg config.StorageConfig) (kv.Store, error) {
		return file.New(cfg.Path), nil
	})
	r.Register(config.BackendPostgres, func(ctx context.Context, cfg config.StorageConfig) (kv.Store, error) {
		return postgres.Open(ctx, cfg.Postgres.DSN, postgres.WithTable(cfg.Postgres.Table))
	})
	r.Register(config.BackendRedis, func(ctx context.Context, cfg config.StorageConfig) (kv.Store, error) {
		rc := cfg.Redis
		return redis.Dial(ctx, rc.Addr, rc.Password, rc.DB, redis.WithPrefix(rc.KeyPrefix))
	})
	return r
}

// New creates a new App by wiring all subsystems together. Options override
// the default implementations. The returned App must be released with
// [App.Shutdown].
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}
	if a.logLevel != nil {
		a.logLevel.Set(cfg.LogLevel.Level())
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────────
	if a.metrics == nil {
		met, shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("app: init telemetry: %w", err)
		}
		a.metrics = met
		a.closers = append(a.closers, func() error {
			return shutdown(context.Background())
		})
	}

	// ── 2. Storage ───────────────────────────────────────────────────────────
	if a.store == nil {
		if err := a.initStore(ctx); err != nil {
			a.closeAll()
			return nil, err
		}
	}
	a.checkers = append(a.checkers, health.StoreChecker("storage", a.store))

	// ── 3. Phonetic vocabulary ───────────────────────────────────────────────
	words, err := cfg.Engine.Phonetic.Words()
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 4. Engine ────────────────────────────────────────────────────────────
	ec := cfg.Engine
	engineOpts := []correct.Option{
		correct.WithMetrics(a.metrics),
		correct.WithConfidenceFloor(ec.Floor()),
		correct.WithFeedbackWeight(ec.Weight()),
		correct.WithBatchConcurrency(ec.BatchConcurrency),
		correct.WithRuleOptions(ruleOptions(ec)...),
	}
	if len(words) > 0 {
		engineOpts = append(engineOpts, correct.WithVocabulary(words, phoneticMatcher(ec.Phonetic)))
	}

	eng, err := correct.New(ctx, a.store, engineOpts...)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: create engine: %w", err)
	}
	a.engine = eng

	slog.Info("engine ready",
		"backend", backendName(cfg.Storage.Backend),
		"rules", eng.Stats().Total,
		"vocabulary", len(words),
	)
	return a, nil
}

// initStore opens the configured backend and layers instrumentation, the
// circuit breaker and the optional file fallback on top of it.
func (a *App) initStore(ctx context.Context) error {
	sc := a.cfg.Storage
	name := backendName(sc.Backend)

	raw, err := a.registry.Open(ctx, sc)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	switch s := raw.(type) {
	case *postgres.Store:
		a.closers = append(a.closers, func() error { s.Close(); return nil })
	case *redis.Store:
		a.closers = append(a.closers, s.Close)
	}

	var store kv.Store = observe.NewInstrumentedStore(raw, a.metrics, string(name))

	remote := name == config.BackendPostgres || name == config.BackendRedis
	breaker := resilience.CircuitBreakerConfig{
		Name:         string(name),
		MaxFailures:  sc.Breaker.MaxFailures,
		ResetTimeout: sc.Breaker.ResetTimeout,
	}
	switch {
	case sc.FallbackPath != "" && name != config.BackendMemory:
		// FallbackStore puts every entry behind its own breaker.
		fb := resilience.NewFallbackStore(store, string(name), breaker)
		fallback := observe.NewInstrumentedStore(file.New(sc.FallbackPath), a.metrics, "file-fallback")
		fb.AddFallback("file-fallback", fallback)
		for _, b := range fb.Breakers() {
			a.checkers = append(a.checkers, health.BreakerChecker(b))
		}
		store = fb
		slog.Info("storage fallback enabled", "path", sc.FallbackPath)
	case remote && !sc.Breaker.Disabled:
		guarded := resilience.NewStore(store, breaker)
		a.checkers = append(a.checkers, health.BreakerChecker(guarded.Breaker()))
		store = guarded
	}

	a.store = store
	return nil
}

// ruleOptions translates engine config into rule store options.
func ruleOptions(ec config.EngineConfig) []rules.Option {
	opts := []rules.Option{rules.WithMaxRules(ec.MaxRules)}
	if ec.CustomPriority > 0 {
		opts = append(opts, rules.WithCustomPriority(ec.CustomPriority))
	}
	if ec.Platform != "" {
		opts = append(opts, rules.WithPlatform(ec.Platform))
	}
	if len(ec.DisabledBuiltins) > 0 {
		opts = append(opts, rules.WithBuiltins(builtinsWithDisabled(ec.DisabledBuiltins)))
	}
	return opts
}

// builtinsWithDisabled returns the built-in tier with the listed rules
// switched off. Entries may be full ids or bare slugs.
func builtinsWithDisabled(disabled []string) []rules.Rule {
	bs := rules.Builtins()
	for i := range bs {
		slug := strings.TrimPrefix(bs[i].ID, rules.BuiltinPrefix)
		if slices.Contains(disabled, bs[i].ID) || slices.Contains(disabled, slug) {
			bs[i].Enabled = false
		}
	}
	return bs
}

func phoneticMatcher(pc config.PhoneticConfig) *phonetic.Matcher {
	var opts []phonetic.Option
	if pc.PhoneticThreshold > 0 {
		opts = append(opts, phonetic.WithPhoneticThreshold(pc.PhoneticThreshold))
	}
	if pc.FuzzyThreshold > 0 {
		opts = append(opts, phonetic.WithFuzzyThreshold(pc.FuzzyThreshold))
	}
	if pc.MinWordLength > 0 {
		opts = append(opts, phonetic.WithMinWordLength(pc.MinWordLength))
	}
	return phonetic.New(opts...)
}

func backendName(b config.Backend) config.Backend {
	if b == "" {
		return config.BackendMemory
	}
	return b
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the correction engine.
func (a *App) Engine() *correct.Engine { return a.engine }

// Store returns the fully wrapped key-value store the engine persists to.
func (a *App) Store() kv.Store { return a.store }

// Health returns a readiness handler over the storage chain. It probes the
// fully wrapped store and, for remote backends, the circuit breaker.
func (a *App) Health() *health.Handler { return health.New(a.checkers...) }

// Config returns the config most recently applied.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of cfg: log level, scoring, the
// custom rule cap and the phonetic vocabulary. Fields that need a restart
// are logged and otherwise ignored. The new config is adopted only if every
// change applied.
func (a *App) Reload(cfg *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(a.cfg, cfg)
	if d.RestartRequired {
		slog.Warn("config change requires restart; storage, telemetry and rule-store settings keep their current values")
	}
	if !d.Changed() {
		a.cfg = cfg
		return nil
	}

	if d.PhoneticChanged {
		words, err := cfg.Engine.Phonetic.Words()
		if err != nil {
			return fmt.Errorf("app: reload: %w", err)
		}
		a.engine.SetVocabulary(words, phoneticMatcher(cfg.Engine.Phonetic))
		slog.Info("phonetic vocabulary reloaded", "words", len(words))
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ScoringChanged {
		a.engine.SetScoring(cfg.Engine.Floor(), cfg.Engine.Weight())
		slog.Info("scoring changed", "floor", cfg.Engine.Floor(), "weight", cfg.Engine.Weight())
	}
	if d.MaxRulesChanged {
		a.engine.SetMaxRules(cfg.Engine.MaxRules)
		slog.Info("max rules changed", "max_rules", cfg.Engine.MaxRules)
	}

	a.cfg = cfg
	return nil
}

// Watch starts a [config.Watcher] on path that feeds every valid change into
// [App.Reload]. The watcher is stopped by [App.Shutdown].
func (a *App) Watch(path string, opts ...config.WatcherOption) error {
	// The callback only runs on the watcher goroutine, so holding a.mu
	// across NewWatcher cannot deadlock with Reload.
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.watcher != nil {
		return fmt.Errorf("app: already watching %q", path)
	}

	w, err := config.NewWatcher(path, func(_, next *config.Config) {
		if err := a.Reload(next); err != nil {
			slog.Error("config reload failed", "path", path, "err", err)
		}
	}, opts...)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.watcher = w
	a.closers = append(a.closers, func() error { w.Stop(); return nil })
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		closers := a.closers
		a.mu.Unlock()
		slog.Info("shutting down", "closers", len(closers))

		for i := len(closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before failing.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}
