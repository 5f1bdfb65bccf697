package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// Storage keys for the two persisted rule collections.
const (
	KeyCustomRules  = "phonocorrect-custom-rules"
	KeyBuiltinState = "phonocorrect-builtin-state"
)

// builtinState is the persisted, mutable part of a built-in rule.
type builtinState struct {
	Enabled bool  `json:"enabled"`
	Usage   Usage `json:"usage"`
}

// ListOptions narrows the result of [Store.List]. All non-zero fields are
// applied as AND conditions.
type ListOptions struct {
	// EnabledOnly drops disabled rules.
	EnabledOnly bool

	// Language keeps only rules that apply to this language tag.
	Language string

	// CustomOnly drops the built-in tier.
	CustomOnly bool
}

// Stats summarises the rule set.
type Stats struct {
	Total         int `json:"total"`
	Custom        int `json:"custom"`
	BuiltIn       int `json:"builtIn"`
	Enabled       int `json:"enabled"`
	Disabled      int `json:"disabled"`
	TimesApplied  int `json:"timesApplied"`
	TimesRejected int `json:"timesRejected"`
}

// MutationHook is called after every committed mutation with the operation
// name ("create", "update", "delete", "toggle", "clear", "import",
// "feedback") and the tier it touched.
type MutationHook func(ctx context.Context, op string, builtIn bool)

// Store is the authoritative two-tier rule collection.
//
// Custom rules are persisted as a JSON array under [KeyCustomRules]; the
// enabled flags and usage counters of built-ins under [KeyBuiltinState].
// Every mutation writes the new collection to the [kv.Store] before it is
// committed in memory, so a failed write leaves the store unchanged.
//
// Store is safe for concurrent use. Mutations are serialized; reads take a
// shared lock and return copies.
type Store struct {
	kv kv.Store

	mu      sync.RWMutex
	custom  []Rule
	builtin []Rule

	maxRules       int
	customPriority int
	platform       string
	now            func() time.Time
	newID          func() string
	onMutate       MutationHook
}

// Option configures a [Store].
type Option func(*Store)

// WithMaxRules caps the number of custom rules. Default: [DefaultMaxRules].
func WithMaxRules(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRules = n
		}
	}
}

// WithBuiltins replaces the built-in tier. Pass nil to run without
// built-ins. Default: [Builtins].
func WithBuiltins(rs []Rule) Option {
	return func(s *Store) {
		s.builtin = make([]Rule, len(rs))
		for i, r := range rs {
			r = r.Clone()
			r.BuiltIn = true
			s.builtin[i] = r
		}
	}
}

// WithCustomPriority sets the priority given to custom rules created with a
// zero priority. Default: [DefaultCustomPriority].
func WithCustomPriority(p int) Option {
	return func(s *Store) { s.customPriority = p }
}

// WithPlatform sets the platform label written into exports.
func WithPlatform(p string) Option {
	return func(s *Store) { s.platform = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides how custom rule IDs are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithMutationHook registers a callback run after each committed mutation.
func WithMutationHook(h MutationHook) Option {
	return func(s *Store) { s.onMutate = h }
}

// NewStore creates a Store backed by store and loads both persisted
// collections. Missing keys yield an empty custom tier and default built-in
// state.
func NewStore(ctx context.Context, store kv.Store, opts ...Option) (*Store, error) {
	s := &Store{
		kv:             store,
		builtin:        Builtins(),
		maxRules:       DefaultMaxRules,
		customPriority: DefaultCustomPriority,
		platform:       "go",
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	var custom []Rule
	if _, err := kv.GetJSON(ctx, s.kv, KeyCustomRules, &custom); err != nil {
		return fmt.Errorf("rules: load custom rules: %w", err)
	}
	for i := range custom {
		custom[i].BuiltIn = false
	}

	var state map[string]builtinState
	if _, err := kv.GetJSON(ctx, s.kv, KeyBuiltinState, &state); err != nil {
		return fmt.Errorf("rules: load built-in state: %w", err)
	}
	for i := range s.builtin {
		if st, ok := state[s.builtin[i].ID]; ok {
			s.builtin[i].Enabled = st.Enabled
			s.builtin[i].Usage = st.Usage
		}
	}

	s.custom = custom
	slog.Debug("rule store loaded", "custom", len(custom), "builtin", len(s.builtin))
	return nil
}

// SetMaxRules changes the custom rule cap. Existing rules above the new cap
// are kept; only further creates are rejected.
func (s *Store) SetMaxRules(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRules = n
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// Get returns the rule with the given id from either tier.
// Returns [ErrNotFound] when no rule has that id.
func (s *Store) Get(id string) (Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOf(s.custom, id); i >= 0 {
		return s.custom[i].Clone(), nil
	}
	if i := indexOf(s.builtin, id); i >= 0 {
		return s.builtin[i].Clone(), nil
	}
	return Rule{}, fmt.Errorf("%w: %q", ErrNotFound, id)
}

// List returns rules of both tiers, custom first, each tier in insertion
// order.
func (s *Store) List(opts ListOptions) []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.custom)+len(s.builtin))
	keep := func(r Rule) bool {
		if opts.EnabledOnly && !r.Enabled {
			return false
		}
		return r.MatchesLanguage(opts.Language)
	}
	for _, r := range s.custom {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	if !opts.CustomOnly {
		for _, r := range s.builtin {
			if keep(r) {
				out = append(out, r.Clone())
			}
		}
	}
	return out
}

// Snapshot returns a copy of the enabled rules in match order: the custom
// tier followed by the built-in tier.
func (s *Store) Snapshot() []Rule {
	return s.List(ListOptions{EnabledOnly: true})
}

// Stats reports rule counts and aggregate usage.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Custom: len(s.custom), BuiltIn: len(s.builtin)}
	for _, tier := range [][]Rule{s.custom, s.builtin} {
		for _, r := range tier {
			if r.Enabled {
				st.Enabled++
			} else {
				st.Disabled++
			}
			st.TimesApplied += r.Usage.TimesApplied
			st.TimesRejected += r.Usage.TimesRejected
		}
	}
	st.Total = st.Custom + st.BuiltIn
	return st
}

// ─────────────────────────────────────────────────────────────────────────────
// Mutations
// ─────────────────────────────────────────────────────────────────────────────

// Create validates r and adds it to the custom tier.
//
// A zero Priority becomes the configured custom priority and a zero
// BaseConfidence becomes [DefaultBaseConfidence]. The ID is kept when it is
// set and unused; otherwise a new one is generated. Timestamps are set and
// usage counters zeroed.
//
// Returns [ErrRuleLimitExceeded] at capacity and a [*ValidationError] when r
// fails [Validate].
func (s *Store) Create(ctx context.Context, r Rule) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.createLocked(ctx, r)
	if err != nil {
		return Rule{}, err
	}
	s.notify(ctx, "create", false)
	return created.Clone(), nil
}

func (s *Store) createLocked(ctx context.Context, r Rule) (Rule, error) {
	if len(s.custom) >= s.maxRules {
		return Rule{}, fmt.Errorf("%w (%d)", ErrRuleLimitExceeded, s.maxRules)
	}

	r = r.Clone()
	r.BuiltIn = false
	if r.Priority == 0 {
		r.Priority = s.customPriority
	}
	if r.BaseConfidence == 0 {
		r.BaseConfidence = DefaultBaseConfidence
	}

	res := Validate(r, s.allLocked())
	if !res.Valid {
		return Rule{}, res.Err()
	}
	for _, w := range res.Warnings {
		slog.Debug("rule created with warning", "pattern", r.Pattern, "warning", w.Kind, "detail", w.Message)
	}

	if r.ID == "" || s.idTakenLocked(r.ID) {
		r.ID = s.newID()
	}
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Usage = Usage{}

	next := append(slices.Clone(s.custom), r)
	if err := s.persistCustom(ctx, next); err != nil {
		return Rule{}, err
	}
	s.custom = next
	return r, nil
}

// Update merges p into the custom rule id and re-validates the result.
// CreatedAt and usage are preserved unless p sets them.
//
// Returns [ErrNotFound], [ErrImmutableRule] for built-ins, or a
// [*ValidationError].
func (s *Store) Update(ctx context.Context, id string, p Patch) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := s.updateLocked(ctx, id, p)
	if err != nil {
		return Rule{}, err
	}
	s.notify(ctx, "update", false)
	return updated.Clone(), nil
}

func (s *Store) updateLocked(ctx context.Context, id string, p Patch) (Rule, error) {
	i, err := s.customIndexLocked(id)
	if err != nil {
		return Rule{}, err
	}

	merged := p.apply(s.custom[i].Clone())
	res := Validate(merged, s.allLocked())
	if !res.Valid {
		return Rule{}, res.Err()
	}
	merged.UpdatedAt = s.now()

	next := slices.Clone(s.custom)
	next[i] = merged
	if err := s.persistCustom(ctx, next); err != nil {
		return Rule{}, err
	}
	s.custom = next
	return merged, nil
}

// Delete removes the custom rule id.
// Returns [ErrNotFound] or [ErrImmutableRule] for built-ins.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.customIndexLocked(id)
	if err != nil {
		return err
	}
	next := slices.Delete(slices.Clone(s.custom), i, i+1)
	if err := s.persistCustom(ctx, next); err != nil {
		return err
	}
	s.custom = next
	s.notify(ctx, "delete", false)
	return nil
}

// Toggle flips the Enabled flag of a rule in either tier and returns the
// updated rule. Returns [ErrNotFound] when no rule has that id.
func (s *Store) Toggle(ctx context.Context, id string) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := indexOf(s.custom, id); i >= 0 {
		next := slices.Clone(s.custom)
		next[i].Enabled = !next[i].Enabled
		next[i].UpdatedAt = s.now()
		if err := s.persistCustom(ctx, next); err != nil {
			return Rule{}, err
		}
		s.custom = next
		s.notify(ctx, "toggle", false)
		return next[i].Clone(), nil
	}

	if i := indexOf(s.builtin, id); i >= 0 {
		next := slices.Clone(s.builtin)
		next[i].Enabled = !next[i].Enabled
		if err := s.persistBuiltin(ctx, next); err != nil {
			return Rule{}, err
		}
		s.builtin = next
		s.notify(ctx, "toggle", true)
		return next[i].Clone(), nil
	}

	return Rule{}, fmt.Errorf("%w: %q", ErrNotFound, id)
}

// Clear removes every custom rule. Built-ins are untouched.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistCustom(ctx, []Rule{}); err != nil {
		return err
	}
	s.custom = nil
	s.notify(ctx, "clear", false)
	return nil
}

// ApplyFeedback records an accept or reject outcome on the usage counters of
// every rule whose ID or [Rule.Key] equals key and returns how many rules
// were updated. A key that matches nothing is not an error.
func (s *Store) ApplyFeedback(ctx context.Context, key string, accepted bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	bump := func(tier []Rule) ([]Rule, int) {
		n := 0
		var next []Rule
		for i, r := range tier {
			if r.ID != key && r.Key() != key {
				continue
			}
			if next == nil {
				next = slices.Clone(tier)
			}
			if accepted {
				next[i].Usage.TimesApplied++
			} else {
				next[i].Usage.TimesRejected++
			}
			used := at
			next[i].Usage.LastUsed = &used
			n++
		}
		return next, n
	}

	total := 0
	if next, n := bump(s.custom); n > 0 {
		if err := s.persistCustom(ctx, next); err != nil {
			return 0, err
		}
		s.custom = next
		total += n
		s.notify(ctx, "feedback", false)
	}
	if next, n := bump(s.builtin); n > 0 {
		if err := s.persistBuiltin(ctx, next); err != nil {
			return total, err
		}
		s.builtin = next
		total += n
		s.notify(ctx, "feedback", true)
	}
	return total, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers (callers hold s.mu)
// ─────────────────────────────────────────────────────────────────────────────

func indexOf(rs []Rule, id string) int {
	return slices.IndexFunc(rs, func(r Rule) bool { return r.ID == id })
}

func (s *Store) customIndexLocked(id string) (int, error) {
	if i := indexOf(s.custom, id); i >= 0 {
		return i, nil
	}
	if indexOf(s.builtin, id) >= 0 {
		return -1, fmt.Errorf("%w: %q", ErrImmutableRule, id)
	}
	return -1, fmt.Errorf("%w: %q", ErrNotFound, id)
}

func (s *Store) idTakenLocked(id string) bool {
	return indexOf(s.custom, id) >= 0 || indexOf(s.builtin, id) >= 0
}

func (s *Store) allLocked() []Rule {
	out := make([]Rule, 0, len(s.custom)+len(s.builtin))
	out = append(out, s.custom...)
	return append(out, s.builtin...)
}

func (s *Store) persistCustom(ctx context.Context, rs []Rule) error {
	if rs == nil {
		rs = []Rule{}
	}
	if err := kv.SetJSON(ctx, s.kv, KeyCustomRules, rs); err != nil {
		return fmt.Errorf("rules: persist custom rules: %w", err)
	}
	return nil
}

func (s *Store) persistBuiltin(ctx context.Context, rs []Rule) error {
	state := make(map[string]builtinState, len(rs))
	for _, r := range rs {
		state[r.ID] = builtinState{Enabled: r.Enabled, Usage: r.Usage}
	}
	if err := kv.SetJSON(ctx, s.kv, KeyBuiltinState, state); err != nil {
		return fmt.Errorf("rules: persist built-in state: %w", err)
	}
	return nil
}

func (s *Store) notify(ctx context.Context, op string, builtIn bool) {
	if s.onMutate != nil {
		s.onMutate(ctx, op, builtIn)
	}
}
