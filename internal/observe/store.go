package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// Compile-time interface check.
var _ kv.Store = (*InstrumentedStore)(nil)

// InstrumentedStore wraps a [kv.Store] with a span and a
// [Metrics.StorageOps] increment per call. A missing key counts as success.
type InstrumentedStore struct {
	inner   kv.Store
	metrics *Metrics
	backend string
}

// NewInstrumentedStore wraps inner. backend names the store in span
// attributes ("memory", "postgres", ...).
func NewInstrumentedStore(inner kv.Store, m *Metrics, backend string) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, metrics: m, backend: backend}
}

func (s *InstrumentedStore) start(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return StartSpan(ctx, "kv."+op, trace.WithAttributes(
		attribute.String("kv.backend", s.backend),
		attribute.String("kv.key", key),
	))
}

func (s *InstrumentedStore) finish(ctx context.Context, span trace.Span, op string, err error) {
	if errors.Is(err, kv.ErrNotFound) {
		err = nil
	}
	EndSpan(span, err)
	s.metrics.RecordStorageOp(ctx, op, err)
}

// Get implements [kv.Store].
func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := s.start(ctx, "get", key)
	v, err := s.inner.Get(ctx, key)
	s.finish(ctx, span, "get", err)
	return v, err
}

// Set implements [kv.Store].
func (s *InstrumentedStore) Set(ctx context.Context, key string, value []byte) error {
	ctx, span := s.start(ctx, "set", key)
	err := s.inner.Set(ctx, key, value)
	s.finish(ctx, span, "set", err)
	return err
}

// Delete implements [kv.Store].
func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	ctx, span := s.start(ctx, "delete", key)
	err := s.inner.Delete(ctx, key)
	s.finish(ctx, span, "delete", err)
	return err
}
