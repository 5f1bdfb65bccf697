package correct_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/phonocorrect/internal/correct"
	"github.com/MrWong99/phonocorrect/pkg/kv/memory"
	"github.com/MrWong99/phonocorrect/pkg/kv/mock"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestRecorder_Monotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, err := correct.NewRecorder(ctx, memory.New(), clock)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	const accepts, rejects = 17, 9
	var wg sync.WaitGroup
	for i := range accepts + rejects {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Record(ctx, "Silent 'ph' sound", i < accepts); err != nil {
				t.Errorf("Record: %v", err)
			}
		}()
	}
	wg.Wait()

	p, ok := r.Lookup("Silent 'ph' sound")
	if !ok {
		t.Fatal("Lookup: preference not found")
	}
	if p.Accepted != accepts || p.Rejected != rejects {
		t.Errorf("counters = %d/%d, want %d/%d", p.Accepted, p.Rejected, accepts, rejects)
	}
	if !p.LastUsed.Equal(fixedNow) {
		t.Errorf("LastUsed = %v, want %v", p.LastUsed, fixedNow)
	}
}

func TestRecorder_PersistsAndReloads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := memory.New()
	r, err := correct.NewRecorder(ctx, backend, clock)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	for _, accepted := range []bool{true, false, true} {
		if _, err := r.Record(ctx, "b-key", accepted); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if _, err := r.Record(ctx, "a-key", false); err != nil {
		t.Fatalf("Record: %v", err)
	}

	reloaded, err := correct.NewRecorder(ctx, backend, clock)
	if err != nil {
		t.Fatalf("NewRecorder (reload): %v", err)
	}
	prefs := reloaded.Preferences()
	if len(prefs) != 2 {
		t.Fatalf("Preferences() = %+v, want 2 entries", prefs)
	}
	if prefs[0].Pattern != "a-key" || prefs[1].Pattern != "b-key" {
		t.Errorf("Preferences not ordered by key: %+v", prefs)
	}
	if prefs[1].Accepted != 2 || prefs[1].Rejected != 1 {
		t.Errorf("b-key = %+v, want 2 accepted 1 rejected", prefs[1])
	}
	if rate := prefs[1].AcceptanceRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("AcceptanceRate = %v", rate)
	}
}

func TestRecorder_PersistFailureLeavesCountersUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := mock.New()
	r, err := correct.NewRecorder(ctx, backend, clock)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if _, err := r.Record(ctx, "k", true); err != nil {
		t.Fatalf("Record: %v", err)
	}

	boom := errors.New("disk full")
	backend.SetErr = boom
	if _, err := r.Record(ctx, "k", true); !errors.Is(err, boom) {
		t.Fatalf("Record error = %v, want %v", err, boom)
	}
	if p, _ := r.Lookup("k"); p.Accepted != 1 {
		t.Errorf("Accepted = %d after failed write, want 1", p.Accepted)
	}
}

func TestRecorder_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, err := correct.NewRecorder(ctx, memory.New(), nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if _, err := r.Record(ctx, "", true); !errors.Is(err, correct.ErrEmptyKey) {
		t.Errorf("Record(\"\") error = %v, want ErrEmptyKey", err)
	}
	if p, ok := r.Lookup("missing"); ok || p.Total() != 0 {
		t.Errorf("Lookup(missing) = %+v, %v", p, ok)
	}

	backend := mock.New()
	backend.GetErr = errors.New("unreachable")
	if _, err := correct.NewRecorder(ctx, backend, nil); err == nil {
		t.Error("NewRecorder with failing backend: expected error")
	}

	corrupt := mock.New()
	corrupt.Seed(correct.KeyPreferences, []byte("{not json"))
	if _, err := correct.NewRecorder(ctx, corrupt, nil); err == nil {
		t.Error("NewRecorder with corrupt data: expected error")
	}
}
