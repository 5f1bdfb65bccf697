package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/phonocorrect/pkg/kv"
	"github.com/MrWong99/phonocorrect/pkg/kv/memory"
)

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get(missing): expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "a", []byte("one")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "one" {
		t.Errorf("Get(a)=%q, want %q", got, "one")
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get after Delete: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Errorf("Delete of absent key: %v", err)
	}
}

func TestStore_CopiesValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	buf := []byte("abc")
	_ = s.Set(ctx, "k", buf)
	buf[0] = 'X'

	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value mutated through caller slice: %q", got)
	}
	got[1] = 'Y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}

func TestStore_ZeroValue(t *testing.T) {
	t.Parallel()

	var s memory.Store
	if err := s.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("Set on zero value: %v", err)
	}
	if keys := s.Keys(); len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("Keys()=%v, want [k]", keys)
	}
}

func TestJSONHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	var out doc
	found, err := kv.GetJSON(ctx, s, "doc", &out)
	if err != nil || found {
		t.Fatalf("GetJSON on empty store: found=%v err=%v", found, err)
	}

	if err := kv.SetJSON(ctx, s, "doc", doc{Name: "fone", Count: 3}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	found, err = kv.GetJSON(ctx, s, "doc", &out)
	if err != nil || !found {
		t.Fatalf("GetJSON: found=%v err=%v", found, err)
	}
	if out.Name != "fone" || out.Count != 3 {
		t.Errorf("GetJSON decoded %+v", out)
	}

	_ = s.Set(ctx, "bad", []byte("{not json"))
	if _, err := kv.GetJSON(ctx, s, "bad", &out); err == nil {
		t.Error("GetJSON on malformed value: expected error")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	const goroutines = 32
	ctx := context.Background()
	s := memory.New()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_ = s.Set(ctx, "shared", []byte("v"))
			_, _ = s.Get(ctx, "shared")
			_ = s.Delete(ctx, "shared")
		}()
	}
	wg.Wait()
}
