package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type entry struct {
	word   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Vocabulary is a precomputed set of known-good words. Phonetic codes are
// computed once at construction. A Vocabulary is immutable and safe for
// concurrent use.
type Vocabulary struct {
	entries []entry
	known   map[string]struct{}
}

// NewVocabulary builds a vocabulary from words. Blank and duplicate
// (case-insensitive) entries are dropped; the first spelling wins.
func NewVocabulary(words []string) *Vocabulary {
	v := &Vocabulary{known: make(map[string]struct{}, len(words))}
	for _, w := range words {
		w = strings.TrimSpace(w)
		lower := strings.ToLower(w)
		if lower == "" {
			continue
		}
		if _, dup := v.known[lower]; dup {
			continue
		}
		v.known[lower] = struct{}{}
		tokens := strings.Fields(lower)
		v.entries = append(v.entries, entry{
			word:   w,
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
	}
	return v
}

// Len returns the number of distinct entries.
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.entries)
}

// Contains reports whether word is in the vocabulary, case-insensitively.
func (v *Vocabulary) Contains(word string) bool {
	if v == nil {
		return false
	}
	_, ok := v.known[strings.ToLower(strings.TrimSpace(word))]
	return ok
}

// Token is a word found by [Tokens], with half-open byte offsets into the
// source text.
type Token struct {
	Text       string
	Start, End int
}

// Tokens splits text into words: maximal runs of letters, digits, marks and
// inner apostrophes ("don't" is one token).
func Tokens(text string) []Token {
	var out []Token
	start := -1
	for i, r := range text {
		switch {
		case isWordRune(r):
			if start < 0 {
				start = i
			}
		case r == '\'' && start >= 0 && nextIsWord(text, i+1):
			// inner apostrophe
		default:
			if start >= 0 {
				out = append(out, Token{Text: text[start:i], Start: start, End: i})
				start = -1
			}
		}
	}
	if start >= 0 {
		out = append(out, Token{Text: text[start:], Start: start, End: len(text)})
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func nextIsWord(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return isWordRune(r)
}
