// Package mock provides a recording test double for [kv.Store].
//
// The mock keeps a real in-memory map so that round-trips behave like a live
// backend, and exposes exported *Err fields that make individual operations
// fail. It is safe for concurrent use.
//
// Typical usage:
//
//	store := mock.New()
//	store.SetErr = errors.New("disk full")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Set"); got != 1 {
//	    t.Errorf("expected 1 Set call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Compile-time interface check.
var _ kv.Store = (*Store)(nil)

// Store is a configurable test double for [kv.Store].
type Store struct {
	mu    sync.Mutex
	calls []Call
	data  map[string][]byte

	// GetErr is returned by [Store.Get] when non-nil.
	GetErr error

	// SetErr is returned by [Store.Set] when non-nil.
	SetErr error

	// SetErrByKey makes [Store.Set] fail only for the listed keys.
	// It is consulted after SetErr.
	SetErrByKey map[string]error

	// DeleteErr is returned by [Store.Delete] when non-nil.
	DeleteErr error
}

// New returns an empty mock store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls. Stored data and error fields are kept.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Seed stores value under key without recording a call.
func (m *Store) Seed(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = append([]byte(nil), value...)
}

// Raw returns the stored bytes for key without recording a call.
func (m *Store) Raw(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// Get implements [kv.Store].
func (m *Store) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Get", Args: []any{key}})
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set implements [kv.Store].
func (m *Store) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Set", Args: []any{key, string(value)}})
	if m.SetErr != nil {
		return m.SetErr
	}
	if err := m.SetErrByKey[key]; err != nil {
		return err
	}
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements [kv.Store].
func (m *Store) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Delete", Args: []any{key}})
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.data, key)
	return nil
}
