package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// Compile-time interface check.
var _ kv.Store = (*Store)(nil)

// Store guards a [kv.Store] with a [CircuitBreaker]. A missing key is a
// normal answer and never trips the breaker.
type Store struct {
	inner   kv.Store
	breaker *CircuitBreaker
}

// NewStore wraps inner. cfg.IsSuccessful is overridden so that
// [kv.ErrNotFound] counts as a success.
func NewStore(inner kv.Store, cfg CircuitBreakerConfig) *Store {
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, kv.ErrNotFound)
	}
	return &Store{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// Breaker exposes the underlying breaker for health reporting.
func (s *Store) Breaker() *CircuitBreaker { return s.breaker }

// Get implements [kv.Store].
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.breaker.Execute(func() error {
		var err error
		out, err = s.inner.Get(ctx, key)
		return err
	})
	return out, err
}

// Set implements [kv.Store].
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.breaker.Execute(func() error {
		return s.inner.Set(ctx, key, value)
	})
}

// Delete implements [kv.Store].
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.breaker.Execute(func() error {
		return s.inner.Delete(ctx, key)
	})
}
