package correct

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/phonocorrect/internal/observe"
	"github.com/MrWong99/phonocorrect/internal/rules"
)

// maxCompiled bounds the compile cache. When it is exceeded the cache is
// dropped and rebuilt on demand.
const maxCompiled = 1024

// Match is a raw rule hit before scoring.
type Match struct {
	Rule rules.Rule

	// Original is text[Start:End].
	Original string

	// Replacement is the rule replacement, expanded against the match for
	// regex rules.
	Replacement string

	Start, End int
}

// SkipHook is called once per rule per [Matcher.Match] call when the rule
// cannot be compiled.
type SkipHook func(ctx context.Context, r rules.Rule, err error)

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithSkipHook registers fn to observe skipped rules.
func WithSkipHook(fn SkipHook) MatcherOption {
	return func(m *Matcher) {
		m.onSkip = fn
	}
}

type compileKey struct {
	pattern       string
	isRegex       bool
	caseSensitive bool
}

type compiled struct {
	re  *regexp.Regexp
	err error
}

// Matcher runs rules against text. Compiled expressions are cached by
// pattern, kind and case sensitivity, including compile failures. A Matcher
// is safe for concurrent use.
type Matcher struct {
	mu     sync.Mutex
	cache  map[compileKey]compiled
	onSkip SkipHook
}

// NewMatcher returns a Matcher with an empty compile cache.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{cache: make(map[compileKey]compiled)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Compile returns the expression used for r.
//
// Literal patterns are split on whitespace, each token is escaped, and the
// tokens are joined with \s+. Word boundaries for literal patterns are
// enforced by [Matcher.Match] rather than by \b, which in RE2 only knows
// ASCII word characters. Regex patterns are used as written. Both get the
// (?i) flag unless the rule is case sensitive.
func (m *Matcher) Compile(r rules.Rule) (*regexp.Regexp, error) {
	key := compileKey{pattern: r.Pattern, isRegex: r.IsRegex, caseSensitive: r.CaseSensitive}

	m.mu.Lock()
	c, ok := m.cache[key]
	m.mu.Unlock()
	if ok {
		return c.re, c.err
	}

	c.re, c.err = regexp.Compile(expression(r))

	m.mu.Lock()
	if len(m.cache) >= maxCompiled {
		clear(m.cache)
	}
	m.cache[key] = c
	m.mu.Unlock()
	return c.re, c.err
}

func expression(r rules.Rule) string {
	var b strings.Builder
	if !r.CaseSensitive {
		b.WriteString("(?i)")
	}
	if r.IsRegex {
		b.WriteString(r.Pattern)
		return b.String()
	}
	for i, tok := range strings.Fields(r.Pattern) {
		if i > 0 {
			b.WriteString(`\s+`)
		}
		b.WriteString(regexp.QuoteMeta(tok))
	}
	return b.String()
}

// Match scans text with every rule in rs, independently and in order, and
// returns the hits in discovery order: rule order first, then position.
// Rules that fail to compile are logged, reported to the skip hook and
// skipped. Matching stops early when ctx is done.
func (m *Matcher) Match(ctx context.Context, text string, rs []rules.Rule) []Match {
	var out []Match
	for _, r := range rs {
		if ctx.Err() != nil {
			return out
		}
		if strings.TrimSpace(r.Pattern) == "" {
			continue
		}
		re, err := m.Compile(r)
		if err != nil {
			observe.Logger(ctx).Warn("skipping rule with invalid pattern",
				"rule_id", r.ID,
				"pattern", r.Pattern,
				"err", err)
			if m.onSkip != nil {
				m.onSkip(ctx, r, err)
			}
			continue
		}
		if r.IsRegex {
			out = appendRegexMatches(out, re, r, text)
		} else {
			out = appendLiteralMatches(out, re, r, text)
		}
	}
	return out
}

func appendRegexMatches(out []Match, re *regexp.Regexp, r rules.Rule, text string) []Match {
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, Match{
			Rule:        r,
			Original:    text[loc[0]:loc[1]],
			Replacement: string(re.ExpandString(nil, r.Replacement, text, loc)),
			Start:       loc[0],
			End:         loc[1],
		})
	}
	return out
}

// appendLiteralMatches finds every occurrence of a literal pattern that sits
// on word boundaries. A candidate failing the boundary test is retried one
// rune further on, so "fonefone fone" still yields the last occurrence.
func appendLiteralMatches(out []Match, re *regexp.Regexp, r rules.Rule, text string) []Match {
	pattern := strings.TrimSpace(r.Pattern)
	first, _ := utf8.DecodeRuneInString(pattern)
	last, _ := utf8.DecodeLastRuneInString(pattern)
	checkStart, checkEnd := isWordRune(first), isWordRune(last)

	for pos := 0; pos < len(text); {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if (!checkStart || !wordBefore(text, start)) && (!checkEnd || !wordAfter(text, end)) && end > start {
			out = append(out, Match{
				Rule:        r,
				Original:    text[start:end],
				Replacement: r.Replacement,
				Start:       start,
				End:         end,
			})
			pos = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		pos = start + max(size, 1)
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.M, r)
}

func wordBefore(text string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return isWordRune(r)
}

func wordAfter(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return isWordRune(r)
}
