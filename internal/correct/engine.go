package correct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/phonocorrect/internal/correct/phonetic"
	"github.com/MrWong99/phonocorrect/internal/observe"
	"github.com/MrWong99/phonocorrect/internal/rules"
	"github.com/MrWong99/phonocorrect/pkg/kv"
)

// Identity of suggestions produced by the vocabulary stage. Feedback recorded
// under PhoneticKey adjusts every phonetic suggestion.
const (
	PhoneticRuleID         = "phonetic"
	PhoneticKey            = "Phonetic match"
	PhoneticBaseConfidence = 1.0
)

// ErrSpanOutOfRange is returned by [Engine.ApplySuggestion] when the
// suggestion's span does not fit the text or no longer covers its original.
var ErrSpanOutOfRange = errors.New("correct: suggestion span out of range")

// Option is a functional option for [New].
type Option func(*Engine)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithConfidenceFloor sets the scorer floor. Default: 0.3.
func WithConfidenceFloor(f float64) Option {
	return func(e *Engine) {
		e.scorer.Floor = f
	}
}

// WithFeedbackWeight sets the scorer feedback weight. Default: 0.5.
func WithFeedbackWeight(w float64) Option {
	return func(e *Engine) {
		e.scorer.Weight = w
	}
}

// WithRuleOptions passes options through to [rules.NewStore].
func WithRuleOptions(opts ...rules.Option) Option {
	return func(e *Engine) {
		e.ruleOpts = append(e.ruleOpts, opts...)
	}
}

// WithVocabulary enables the phonetic vocabulary stage. Word tokens not in
// words are matched against it with m, or with [phonetic.New] defaults when
// m is nil.
func WithVocabulary(words []string, m *phonetic.Matcher) Option {
	return func(e *Engine) {
		e.vocab = phonetic.NewVocabulary(words)
		if m == nil {
			m = phonetic.New()
		}
		e.phonetic = m
	}
}

// WithBatchConcurrency bounds the goroutines used by [Engine.AnalyzeBatch].
// Default: GOMAXPROCS.
func WithBatchConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchLimit = n
		}
	}
}

// WithClock sets the time source for timestamps and feedback.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// AnalyzeOption tunes a single [Engine.Analyze] call.
type AnalyzeOption func(*analyzeOptions)

type analyzeOptions struct {
	language string
}

// ForLanguage restricts analysis to rules that apply to language tag.
func ForLanguage(tag string) AnalyzeOption {
	return func(o *analyzeOptions) {
		o.language = tag
	}
}

// Engine is the correction facade: analysis, feedback, rule management and
// import/export over one persisted rule store and preference collection.
// An Engine is safe for concurrent use.
type Engine struct {
	rules    *rules.Store
	recorder *Recorder
	matcher  *Matcher
	metrics  *observe.Metrics
	ruleOpts []rules.Option

	now        func() time.Time
	batchLimit int

	mu       sync.RWMutex
	scorer   Scorer
	vocab    *phonetic.Vocabulary
	phonetic *phonetic.Matcher
}

// New builds an Engine over store, loading rules and preferences
// concurrently.
func New(ctx context.Context, store kv.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		scorer:     DefaultScorer(),
		now:        time.Now,
		batchLimit: runtime.GOMAXPROCS(0),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.matcher = NewMatcher(WithSkipHook(func(ctx context.Context, r rules.Rule, _ error) {
		e.metrics.RecordSkippedRule(ctx, r.ID)
	}))

	ruleOpts := make([]rules.Option, 0, len(e.ruleOpts)+2)
	ruleOpts = append(ruleOpts, rules.WithClock(e.now))
	ruleOpts = append(ruleOpts, e.ruleOpts...)
	ruleOpts = append(ruleOpts, rules.WithMutationHook(func(ctx context.Context, op string, builtIn bool) {
		e.metrics.RecordRuleMutation(ctx, op, builtIn)
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := rules.NewStore(gctx, store, ruleOpts...)
		e.rules = s
		return err
	})
	g.Go(func() error {
		r, err := NewRecorder(gctx, store, e.now)
		e.recorder = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("correct: load engine state: %w", err)
	}
	return e, nil
}

// SetScoring replaces the floor and feedback weight for subsequent analyses.
func (e *Engine) SetScoring(floor, weight float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scorer = Scorer{Floor: floor, Weight: weight}
}

// SetMaxRules changes the custom rule cap.
func (e *Engine) SetMaxRules(n int) { e.rules.SetMaxRules(n) }

// SetVocabulary replaces the phonetic vocabulary and matcher, as
// [WithVocabulary] does. An empty list disables the stage.
func (e *Engine) SetVocabulary(words []string, m *phonetic.Matcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(words) == 0 {
		e.vocab, e.phonetic = nil, nil
		return
	}
	if m == nil {
		m = phonetic.New()
	}
	e.vocab, e.phonetic = phonetic.NewVocabulary(words), m
}

// Rules returns the underlying rule store.
func (e *Engine) Rules() *rules.Store { return e.rules }

// ─────────────────────────────────────────────────────────────────────────────
// Analysis
// ─────────────────────────────────────────────────────────────────────────────

// Analyze returns the non-overlapping suggestions for text ordered by
// position. It never fails: rules that cannot be compiled are skipped.
func (e *Engine) Analyze(ctx context.Context, text string, opts ...AnalyzeOption) []Suggestion {
	var ao analyzeOptions
	for _, o := range opts {
		o(&ao)
	}

	ctx, span := observe.StartSpan(ctx, "correct.analyze")
	defer span.End()
	start := time.Now()

	snapshot := e.rules.Snapshot()
	if ao.language != "" {
		snapshot = slices.DeleteFunc(snapshot, func(r rules.Rule) bool { return !r.MatchesLanguage(ao.language) })
	}

	e.mu.RLock()
	scorer, vocab, pm := e.scorer, e.vocab, e.phonetic
	e.mu.RUnlock()

	cands := e.score(ctx, scorer, e.matcher.Match(ctx, text, snapshot))
	if vocab.Len() > 0 && pm != nil {
		cands = append(cands, e.phoneticCandidates(scorer, vocab, pm, text)...)
	}
	out := Resolve(cands)

	e.metrics.RecordAnalyze(ctx, time.Since(start))
	perTier := make(map[Tier]int, 3)
	for _, s := range out {
		perTier[s.Tier]++
	}
	for t, n := range perTier {
		e.metrics.RecordSuggestions(ctx, t.String(), n)
	}
	span.SetAttributes(
		attribute.Int("rules", len(snapshot)),
		attribute.Int("candidates", len(cands)),
		attribute.Int("suggestions", len(out)),
	)
	return out
}

func (e *Engine) score(ctx context.Context, scorer Scorer, matches []Match) []Suggestion {
	out := make([]Suggestion, 0, len(matches))
	for _, m := range matches {
		pref, _ := e.recorder.Lookup(m.Rule.Key())
		conf, ok := scorer.Score(m.Original, m.Replacement, m.Rule.BaseConfidence, pref)
		if !ok {
			observe.Logger(ctx).Debug("match dropped",
				"rule_id", m.Rule.ID,
				"original", m.Original,
				"confidence", conf)
			continue
		}
		out = append(out, Suggestion{
			Original:   m.Original,
			Suggestion: m.Replacement,
			Confidence: conf,
			RuleID:     m.Rule.ID,
			Pattern:    m.Rule.Key(),
			StartIndex: m.Start,
			EndIndex:   m.End,
			Tier:       tierOf(m.Rule),
			Priority:   m.Rule.Priority,
		})
	}
	return out
}

func (e *Engine) phoneticCandidates(scorer Scorer, vocab *phonetic.Vocabulary, pm *phonetic.Matcher, text string) []Suggestion {
	pref, _ := e.recorder.Lookup(PhoneticKey)
	var out []Suggestion
	for _, tok := range phonetic.Tokens(text) {
		c, ok := pm.Match(tok.Text, vocab)
		if !ok {
			continue
		}
		conf, ok := scorer.Score(tok.Text, c.Word, PhoneticBaseConfidence*c.Score, pref)
		if !ok {
			continue
		}
		out = append(out, Suggestion{
			Original:   tok.Text,
			Suggestion: c.Word,
			Confidence: conf,
			RuleID:     PhoneticRuleID,
			Pattern:    PhoneticKey,
			StartIndex: tok.Start,
			EndIndex:   tok.End,
			Tier:       TierPhonetic,
		})
	}
	return out
}

func tierOf(r rules.Rule) Tier {
	if r.BuiltIn {
		return TierBuiltIn
	}
	return TierCustom
}

// AnalyzeBatch analyses texts in parallel, bounded by
// [WithBatchConcurrency]. Results are index-aligned with texts. It fails only
// when ctx is done before every text was analysed.
func (e *Engine) AnalyzeBatch(ctx context.Context, texts []string, opts ...AnalyzeOption) ([][]Suggestion, error) {
	out := make([][]Suggestion, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchLimit)
	for i, text := range texts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = e.Analyze(gctx, text, opts...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("correct: analyze batch: %w", err)
	}
	return out, nil
}

// ApplySuggestion replaces the suggestion's span in text. It returns
// [ErrSpanOutOfRange] when the span does not fit text or text[start:end] is
// no longer the suggestion's original.
func (e *Engine) ApplySuggestion(text string, s Suggestion) (string, error) {
	if !spanValid(text, s) {
		return "", fmt.Errorf("%w: [%d,%d) in text of length %d", ErrSpanOutOfRange, s.StartIndex, s.EndIndex, len(text))
	}
	return text[:s.StartIndex] + s.Suggestion + text[s.EndIndex:], nil
}

// ApplyAll applies every valid suggestion, right to left so earlier offsets
// stay correct. Suggestions overlapping one already applied, or with stale
// spans, are ignored.
func (e *Engine) ApplyAll(text string, ss []Suggestion) string {
	ordered := slices.Clone(ss)
	slices.SortStableFunc(ordered, func(a, b Suggestion) int {
		if a.StartIndex != b.StartIndex {
			return b.StartIndex - a.StartIndex
		}
		return b.EndIndex - a.EndIndex
	})

	out := text
	limit := len(text)
	for _, s := range ordered {
		if s.EndIndex > limit || !spanValid(text, s) {
			continue
		}
		out = out[:s.StartIndex] + s.Suggestion + out[s.EndIndex:]
		limit = s.StartIndex
	}
	return out
}

func spanValid(text string, s Suggestion) bool {
	return s.StartIndex >= 0 &&
		s.StartIndex <= s.EndIndex &&
		s.EndIndex <= len(text) &&
		text[s.StartIndex:s.EndIndex] == s.Original
}

// ─────────────────────────────────────────────────────────────────────────────
// Feedback
// ─────────────────────────────────────────────────────────────────────────────

// RecordFeedback records that the user accepted or rejected a suggestion
// with the given key ([Suggestion.Pattern]). The preference is persisted
// first and an error is returned only when that write fails. Once the
// preference is committed, the usage counters of every rule whose ID or key
// equals key are updated; a failure there is logged and does not fail the
// call, so a caller retrying on error never counts the feedback twice.
func (e *Engine) RecordFeedback(ctx context.Context, key string, accepted bool) error {
	if _, err := e.recorder.Record(ctx, key, accepted); err != nil {
		return err
	}
	if _, err := e.rules.ApplyFeedback(ctx, key, accepted); err != nil {
		observe.Logger(ctx).Warn("rule usage not updated after feedback",
			"key", key, "accepted", accepted, "err", err)
	}
	e.metrics.RecordFeedback(ctx, accepted)
	return nil
}

// Preferences returns every recorded preference ordered by key.
func (e *Engine) Preferences() []UserPreference { return e.recorder.Preferences() }

// ─────────────────────────────────────────────────────────────────────────────
// Rule management
// ─────────────────────────────────────────────────────────────────────────────

// CreateRule adds a custom rule. See [rules.Store.Create].
func (e *Engine) CreateRule(ctx context.Context, r rules.Rule) (rules.Rule, error) {
	return e.rules.Create(ctx, r)
}

// UpdateRule patches a custom rule. See [rules.Store.Update].
func (e *Engine) UpdateRule(ctx context.Context, id string, p rules.Patch) (rules.Rule, error) {
	return e.rules.Update(ctx, id, p)
}

// DeleteRule removes a custom rule.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	return e.rules.Delete(ctx, id)
}

// ToggleRule flips the enabled flag of a rule of either tier.
func (e *Engine) ToggleRule(ctx context.Context, id string) (rules.Rule, error) {
	return e.rules.Toggle(ctx, id)
}

// ListRules lists rules of both tiers, custom first.
func (e *Engine) ListRules(opts rules.ListOptions) []rules.Rule {
	return e.rules.List(opts)
}

// ClearRules removes every custom rule.
func (e *Engine) ClearRules(ctx context.Context) error {
	return e.rules.Clear(ctx)
}

// Stats reports rule counts and aggregate usage.
func (e *Engine) Stats() rules.Stats { return e.rules.Stats() }

// ValidateRule checks r against every existing rule without storing it.
func (e *Engine) ValidateRule(r rules.Rule) rules.Result {
	return rules.Validate(r, e.rules.List(rules.ListOptions{}))
}

// PreviewRule runs r alone against sample with the engine's matcher and
// scorer, as if it were an enabled custom rule. Zero priority and base
// confidence get the custom defaults. Feedback recorded under r's key is
// applied. An invalid rule returns its validation error.
func (e *Engine) PreviewRule(ctx context.Context, r rules.Rule, sample string) ([]Suggestion, error) {
	res := rules.Validate(r, nil)
	if err := res.Err(); err != nil {
		return nil, err
	}
	r = r.Clone()
	r.Enabled = true
	r.BuiltIn = false
	if r.ID == "" {
		r.ID = "preview"
	}
	if r.Priority == 0 {
		r.Priority = rules.DefaultCustomPriority
	}
	if r.BaseConfidence == 0 {
		r.BaseConfidence = rules.DefaultBaseConfidence
	}

	e.mu.RLock()
	scorer := e.scorer
	e.mu.RUnlock()
	return Resolve(e.score(ctx, scorer, e.matcher.Match(ctx, sample, []rules.Rule{r}))), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Import / export
// ─────────────────────────────────────────────────────────────────────────────

// Export wraps the custom rules with the given ids (all when empty) in an
// export envelope.
func (e *Engine) Export(ids ...string) rules.Export { return e.rules.Export(ids...) }

// Import adds the rules of ex to the custom tier according to policy.
func (e *Engine) Import(ctx context.Context, ex rules.Export, policy rules.Policy) (rules.ImportResult, error) {
	ctx, span := observe.StartSpan(ctx, "correct.import")

	res, err := e.rules.Import(ctx, ex, policy)
	span.SetAttributes(
		attribute.String("policy", policy.String()),
		attribute.Int("imported", res.Imported),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("errors", res.Errors),
	)
	observe.EndSpan(span, err)
	return res, err
}

// ImportJSON parses an export envelope from r and imports it.
func (e *Engine) ImportJSON(ctx context.Context, r io.Reader, policy rules.Policy) (rules.ImportResult, error) {
	ex, err := rules.ParseExport(r)
	if err != nil {
		return rules.ImportResult{}, err
	}
	return e.Import(ctx, ex, policy)
}

// ApplyTemplate imports the rules of the template with the given id, skipping
// rules whose pattern already exists.
func (e *Engine) ApplyTemplate(ctx context.Context, id string) (rules.ImportResult, error) {
	t, err := rules.TemplateByID(id)
	if err != nil {
		return rules.ImportResult{}, err
	}
	return e.Import(ctx, rules.Export{Version: rules.ExportVersion, Rules: t.RuleSet()}, rules.PolicySkip)
}
