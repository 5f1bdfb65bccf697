// Package memory provides an in-process [kv.Store].
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// Compile-time interface check.
var _ kv.Store = (*Store)(nil)

// Store is a thread-safe, map-backed [kv.Store]. Values are copied on the way
// in and out so callers cannot mutate stored data.
// The zero value is ready to use.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty [Store].
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Get implements [kv.Store.Get].
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return slices.Clone(v), nil
}

// Set implements [kv.Store.Set].
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.data[key] = slices.Clone(value)
	return nil
}

// Delete implements [kv.Store.Delete].
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
