package correct

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// KeyPreferences is the storage key of the preference collection.
const KeyPreferences = "phonocorrect-preferences"

// ErrEmptyKey is returned when feedback is recorded without a rule key.
var ErrEmptyKey = errors.New("correct: empty feedback key")

// UserPreference is the accumulated feedback for one rule key.
type UserPreference struct {
	Pattern  string    `json:"pattern"`
	Accepted int       `json:"accepted"`
	Rejected int       `json:"rejected"`
	LastUsed time.Time `json:"lastUsed"`
}

// Total returns accepted + rejected.
func (p UserPreference) Total() int { return p.Accepted + p.Rejected }

// AcceptanceRate returns accepted / total, or 0 without feedback.
func (p UserPreference) AcceptanceRate() float64 {
	if p.Total() == 0 {
		return 0
	}
	return float64(p.Accepted) / float64(p.Total())
}

// Recorder keeps per-key accept/reject counters and persists them through a
// [kv.Store]. Counters only grow. All methods are safe for concurrent use.
type Recorder struct {
	kv  kv.Store
	now func() time.Time

	mu    sync.RWMutex
	prefs map[string]UserPreference
}

// NewRecorder loads the persisted preferences from store. A missing key
// yields an empty recorder. A nil now defaults to [time.Now].
func NewRecorder(ctx context.Context, store kv.Store, now func() time.Time) (*Recorder, error) {
	if now == nil {
		now = time.Now
	}
	var list []UserPreference
	if _, err := kv.GetJSON(ctx, store, KeyPreferences, &list); err != nil {
		return nil, fmt.Errorf("correct: load preferences: %w", err)
	}
	prefs := make(map[string]UserPreference, len(list))
	for _, p := range list {
		if p.Pattern != "" {
			prefs[p.Pattern] = p
		}
	}
	return &Recorder{kv: store, now: now, prefs: prefs}, nil
}

// Record counts one outcome for key, creating the preference on first use,
// and persists the collection. The in-memory counters change only after the
// write succeeds.
func (r *Recorder) Record(ctx context.Context, key string, accepted bool) (UserPreference, error) {
	if key == "" {
		return UserPreference{}, ErrEmptyKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.prefs[key]
	p.Pattern = key
	if accepted {
		p.Accepted++
	} else {
		p.Rejected++
	}
	p.LastUsed = r.now()

	next := maps.Clone(r.prefs)
	next[key] = p
	if err := kv.SetJSON(ctx, r.kv, KeyPreferences, sortedPrefs(next)); err != nil {
		return UserPreference{}, fmt.Errorf("correct: persist preferences: %w", err)
	}
	r.prefs = next
	return p, nil
}

// Lookup returns the preference for key. The zero value (no feedback) is
// returned when none exists.
func (r *Recorder) Lookup(key string) (UserPreference, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prefs[key]
	return p, ok
}

// Preferences returns every preference ordered by key.
func (r *Recorder) Preferences() []UserPreference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedPrefs(r.prefs)
}

func sortedPrefs(m map[string]UserPreference) []UserPreference {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b UserPreference) int { return cmp.Compare(a.Pattern, b.Pattern) })
	return out
}
