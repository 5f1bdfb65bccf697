package phonetic_test

import (
	"testing"

	"github.com/MrWong99/phonocorrect/internal/correct/phonetic"
)

func TestMatcher_PhoneticMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocab := phonetic.NewVocabulary([]string{"phone", "table", "receive"})

	// Double Metaphone("fone") and Double Metaphone("phone") both encode to FN.
	got, ok := m.Match("fone", vocab)
	if !ok {
		t.Fatalf("Match(%q): matched=false, want true", "fone")
	}
	if got.Word != "phone" {
		t.Errorf("Match(%q): word=%q, want %q", "fone", got.Word, "phone")
	}
	if !got.Phonetic {
		t.Errorf("Match(%q): Phonetic=false, want true", "fone")
	}
	if got.Score < 0.7 {
		t.Errorf("Match(%q): score=%f, want >= 0.7", "fone", got.Score)
	}
}

func TestMatcher_TranspositionScoresHigh(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocab := phonetic.NewVocabulary([]string{"receive", "recipe"})

	got, ok := m.Match("recieve", vocab)
	if !ok {
		t.Fatalf("Match(%q): matched=false, want true", "recieve")
	}
	if got.Word != "receive" {
		t.Errorf("Match(%q): word=%q, want %q", "recieve", got.Word, "receive")
	}
	if got.Score < 0.9 {
		t.Errorf("Match(%q): score=%f, want >= 0.9", "recieve", got.Score)
	}
}

func TestMatcher_MultiWordEntry(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocab := phonetic.NewVocabulary([]string{"a lot"})

	// No code overlap, but the space-stripped forms are identical.
	got, ok := m.Match("alot", vocab)
	if !ok {
		t.Fatalf("Match(%q): matched=false, want true", "alot")
	}
	if got.Word != "a lot" {
		t.Errorf("Match(%q): word=%q, want %q", "alot", got.Word, "a lot")
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocab := phonetic.NewVocabulary([]string{"phone", "receive"})

	tests := []struct {
		name string
		word string
	}{
		{name: "unrelated", word: "table"},
		{name: "known word", word: "phone"},
		{name: "known word other case", word: "PHONE"},
		{name: "too short", word: "fo"},
		{name: "blank", word: "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got, ok := m.Match(tt.word, vocab); ok {
				t.Errorf("Match(%q) = %+v, want no match", tt.word, got)
			}
		})
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if _, ok := m.Match("fone", nil); ok {
		t.Error("Match with nil vocabulary: matched=true, want false")
	}
	if _, ok := m.Match("fone", phonetic.NewVocabulary(nil)); ok {
		t.Error("Match with empty vocabulary: matched=true, want false")
	}
}

func TestMatcher_FollowsInputCase(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocab := phonetic.NewVocabulary([]string{"phone"})

	tests := []struct {
		word string
		want string
	}{
		{word: "fone", want: "phone"},
		{word: "Fone", want: "Phone"},
		{word: "FONE", want: "PHONE"},
	}
	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			t.Parallel()
			got, ok := m.Match(tt.word, vocab)
			if !ok {
				t.Fatalf("Match(%q): matched=false, want true", tt.word)
			}
			if got.Word != tt.want {
				t.Errorf("Match(%q): word=%q, want %q", tt.word, got.Word, tt.want)
			}
		})
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()

	vocab := phonetic.NewVocabulary([]string{"phone"})

	// fone/phone scores about 0.78, so a 0.95 threshold rejects it.
	strict := phonetic.New(phonetic.WithPhoneticThreshold(0.95))
	if _, ok := strict.Match("fone", vocab); ok {
		t.Error("strict matcher: matched=true, want false")
	}

	short := phonetic.New(phonetic.WithMinWordLength(5))
	if _, ok := short.Match("fone", vocab); ok {
		t.Error("min length 5: matched=true, want false")
	}

	loose := phonetic.New(phonetic.WithFuzzyThreshold(0.1), phonetic.WithMinWordLength(1))
	if _, ok := loose.Match("xyzzy", phonetic.NewVocabulary([]string{"xyzzq"})); !ok {
		t.Error("loose matcher: matched=false, want true")
	}
}

func TestVocabulary(t *testing.T) {
	t.Parallel()

	v := phonetic.NewVocabulary([]string{"Phone", "phone", "  ", "", " night "})
	if v.Len() != 2 {
		t.Errorf("Len() = %d, want 2", v.Len())
	}
	for _, w := range []string{"phone", "PHONE", "night", " Night"} {
		if !v.Contains(w) {
			t.Errorf("Contains(%q) = false, want true", w)
		}
	}
	if v.Contains("fone") {
		t.Error(`Contains("fone") = true, want false`)
	}

	var nilVocab *phonetic.Vocabulary
	if nilVocab.Len() != 0 || nilVocab.Contains("phone") {
		t.Error("nil vocabulary should be empty")
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	got := phonetic.Tokens("I don't know, café! 'quoted'")
	want := []phonetic.Token{
		{Text: "I", Start: 0, End: 1},
		{Text: "don't", Start: 2, End: 7},
		{Text: "know", Start: 8, End: 12},
		{Text: "café", Start: 14, End: 19},
		{Text: "quoted", Start: 22, End: 28},
	}
	if len(got) != len(want) {
		t.Fatalf("Tokens() returned %d tokens, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if toks := phonetic.Tokens(""); len(toks) != 0 {
		t.Errorf("Tokens(\"\") = %+v, want empty", toks)
	}
}
