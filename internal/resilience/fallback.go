package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// ErrAllFailed is returned when every backend in a [FallbackStore] fails or
// has an open circuit breaker.
var ErrAllFailed = errors.New("all storage backends failed")

// Compile-time interface check.
var _ kv.Store = (*FallbackStore)(nil)

type fallbackEntry struct {
	name  string
	store *Store
}

// FallbackStore chains a primary [kv.Store] with zero or more fallbacks, each
// behind its own breaker.
//
// Reads are served by the first backend that answers; [kv.ErrNotFound] is an
// answer. Writes go to the first backend that accepts them and are then
// mirrored to the remaining backends on a best-effort basis, so a fallback
// holds a recent copy when the primary goes away.
type FallbackStore struct {
	entries []fallbackEntry
	cfg     CircuitBreakerConfig
}

// NewFallbackStore creates a [FallbackStore] with primary as the first entry.
func NewFallbackStore(primary kv.Store, primaryName string, cfg CircuitBreakerConfig) *FallbackStore {
	fs := &FallbackStore{cfg: cfg}
	fs.AddFallback(primaryName, primary)
	return fs
}

// AddFallback appends a backend. Backends are tried in registration order.
func (fs *FallbackStore) AddFallback(name string, store kv.Store) {
	cfg := fs.cfg
	cfg.Name = name
	fs.entries = append(fs.entries, fallbackEntry{name: name, store: NewStore(store, cfg)})
}

// Len returns the number of registered backends.
func (fs *FallbackStore) Len() int { return len(fs.entries) }

// Breakers returns the breaker guarding each backend, in registration order.
func (fs *FallbackStore) Breakers() []*CircuitBreaker {
	out := make([]*CircuitBreaker, len(fs.entries))
	for i, e := range fs.entries {
		out[i] = e.store.Breaker()
	}
	return out
}

// Get implements [kv.Store].
func (fs *FallbackStore) Get(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for _, e := range fs.entries {
		v, err := e.store.Get(ctx, key)
		if err == nil || errors.Is(err, kv.ErrNotFound) {
			return v, err
		}
		lastErr = err
		fs.logSkip(e.name, err)
	}
	return nil, fmt.Errorf("%w: get %q: %v", ErrAllFailed, key, lastErr)
}

// Set implements [kv.Store].
func (fs *FallbackStore) Set(ctx context.Context, key string, value []byte) error {
	return fs.write("set", key, func(s kv.Store) error { return s.Set(ctx, key, value) })
}

// Delete implements [kv.Store].
func (fs *FallbackStore) Delete(ctx context.Context, key string) error {
	return fs.write("delete", key, func(s kv.Store) error { return s.Delete(ctx, key) })
}

func (fs *FallbackStore) write(op, key string, fn func(kv.Store) error) error {
	var lastErr error
	for i, e := range fs.entries {
		err := fn(e.store)
		if err != nil {
			lastErr = err
			fs.logSkip(e.name, err)
			continue
		}
		for _, m := range fs.entries[i+1:] {
			if err := fn(m.store); err != nil {
				slog.Debug("fallback mirror write failed",
					"backend", m.name, "op", op, "key", key, "error", err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s %q: %v", ErrAllFailed, op, key, lastErr)
}

func (fs *FallbackStore) logSkip(name string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		slog.Debug("skipping storage backend (circuit open)", "backend", name)
		return
	}
	slog.Warn("storage backend failed, trying next", "backend", name, "error", err)
}
