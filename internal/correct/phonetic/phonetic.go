// Package phonetic finds the vocabulary word that sounds most like an
// unknown word, using Double Metaphone encoding combined with Jaro-Winkler
// string similarity for ranked candidate selection.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the input and for each vocabulary entry. If any code from the input
//     overlaps with any code from an entry, the entry becomes a phonetic
//     candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the entry with the
//     highest Jaro-Winkler similarity (case-insensitive) is selected,
//     provided its score reaches the phonetic threshold.
//
//     When no phonetic candidate is found, a secondary pass tests pure
//     Jaro-Winkler similarity against all entries using a higher fuzzy
//     threshold (default 0.85).
//
// Multi-word entries ("a lot") are supported: codes are computed per token
// and the best pairwise score across token pairs is considered.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultMinWordLength     = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matched entry to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithMinWordLength sets the shortest word, in runes, that is considered at
// all. Shorter words never match. Default: 3.
func WithMinWordLength(n int) Option {
	return func(m *Matcher) {
		m.minWordLength = n
	}
}

// Matcher ranks vocabulary entries by phonetic similarity.
// It is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minWordLength     int
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minWordLength:     defaultMinWordLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Candidate is the outcome of a successful [Matcher.Match].
type Candidate struct {
	// Word is the vocabulary entry, re-cased to follow the input.
	Word string

	// Score is the Jaro-Winkler similarity in [0,1].
	Score float64

	// Phonetic reports whether the entry shared a Double Metaphone code with
	// the input, as opposed to passing the fuzzy fallback.
	Phonetic bool
}

// Match returns the vocabulary entry most similar to word. It reports false
// when word is too short, is itself in the vocabulary, or nothing passes the
// thresholds.
func (m *Matcher) Match(word string, v *Vocabulary) (Candidate, bool) {
	word = strings.TrimSpace(word)
	if v == nil || v.Len() == 0 || len([]rune(word)) < m.minWordLength {
		return Candidate{}, false
	}
	if v.Contains(word) {
		return Candidate{}, false
	}

	wordLower := strings.ToLower(word)
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	var (
		best     entry
		bestSet  bool
		score    float64
		phonetic bool
	)
	for _, e := range v.entries {
		phoneticMatch := codesOverlap(inputCodes, e.codes)
		jw := bestJWScore(wordTokens, e.tokens, wordLower, e.lower)

		if phoneticMatch {
			if jw >= m.phoneticThreshold && (!phonetic || jw > score) {
				best, bestSet, score, phonetic = e, true, jw, true
			}
		} else if !phonetic {
			if jw >= m.fuzzyThreshold && jw > score {
				best, bestSet, score, phonetic = e, true, jw, false
			}
		}
	}

	if !bestSet {
		return Candidate{}, false
	}
	return Candidate{Word: matchCase(word, best.word), Score: score, Phonetic: phonetic}, true
}

// matchCase re-cases dst to follow src: all upper, leading capital, or as
// stored.
func matchCase(src, dst string) string {
	first, _ := utf8.DecodeRuneInString(src)
	switch {
	case utf8.RuneCountInString(src) > 1 && strings.ToUpper(src) == src && strings.ToLower(src) != src:
		return strings.ToUpper(dst)
	case unicode.IsUpper(first):
		r, size := utf8.DecodeRuneInString(dst)
		return string(unicode.ToUpper(r)) + dst[size:]
	default:
		return dst
	}
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between input and
// entry over the full strings, the space-stripped strings and every token
// pair.
func bestJWScore(inputTokens, entryTokens []string, inputFull, entryFull string) float64 {
	score := matchr.JaroWinkler(inputFull, entryFull, false)

	if len(inputTokens) > 1 || len(entryTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(entryTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, et := range entryTokens {
			if s := matchr.JaroWinkler(it, et, false); s > score {
				score = s
			}
		}
	}

	return score
}
