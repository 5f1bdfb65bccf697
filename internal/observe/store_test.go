package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/phonocorrect/pkg/kv"
	"github.com/MrWong99/phonocorrect/pkg/kv/mock"
)

func TestInstrumentedStore(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	m, reader := newTestMetrics(t)
	inner := mock.New()
	s := NewInstrumentedStore(inner, m, "mock")
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte(`1`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get: %v", err)
	}
	inner.DeleteErr = errors.New("boom")
	if err := s.Delete(ctx, "k"); err == nil {
		t.Fatal("Delete: expected error")
	}

	rm := collect(t, reader)
	if got := counterValue(t, rm, "phonocorrect.storage.operations", Attr("status", "ok")); got != 2 {
		t.Errorf("ok ops = %d, want 2 (set + not-found get)", got)
	}
	if got := counterValue(t, rm, "phonocorrect.storage.operations", Attr("op", "delete"), Attr("status", "error")); got != 1 {
		t.Errorf("failed deletes = %d, want 1", got)
	}

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(spans))
	}
	if spans[2].Name != "kv.delete" || spans[2].Status.Code != codes.Error {
		t.Errorf("delete span = %s/%v", spans[2].Name, spans[2].Status.Code)
	}
	if spans[1].Status.Code == codes.Error {
		t.Error("not-found get must not mark the span as error")
	}
}
