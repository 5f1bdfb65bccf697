package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// ErrBackendNotRegistered is returned by [Registry.Open] when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: storage backend not registered")

// BackendFactory opens a key-value store from the storage configuration.
type BackendFactory func(ctx context.Context, cfg StorageConfig) (kv.Store, error)

// Registry maps storage backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[Backend]BackendFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{backends: make(map[Backend]BackendFactory)}
}

// Register registers a backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name Backend, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// Backends returns the registered backend names in sorted order.
func (r *Registry) Backends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, 0, len(r.backends))
	for name := range r.backends {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Open instantiates the store registered under cfg.Backend, or under
// [BackendMemory] when the backend is empty.
// Returns [ErrBackendNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) Open(ctx context.Context, cfg StorageConfig) (kv.Store, error) {
	name := cfg.Backend
	if name == "" {
		name = BackendMemory
	}
	r.mu.RLock()
	factory, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, name)
	}
	store, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: open %s backend: %w", name, err)
	}
	return store, nil
}
