// Package correct is the phonetic correction engine: it matches the enabled
// rules of a [rules.Store] against text, scores every match from the rule's
// base confidence and recorded user feedback, resolves overlapping matches
// and returns a position-ordered list of [Suggestion]s.
//
// The entry point is [Engine]. [Matcher], [Scorer], [Resolve] and [Recorder]
// are exported so the pipeline stages can be used and tested on their own.
package correct

import (
	"fmt"
)

// Tier ranks the origin of a suggestion. Lower tiers win overlap conflicts.
type Tier int

const (
	// TierCustom marks suggestions from user-authored rules.
	TierCustom Tier = iota

	// TierBuiltIn marks suggestions from the fixed built-in rule set.
	TierBuiltIn

	// TierPhonetic marks suggestions from the vocabulary stage.
	TierPhonetic
)

// String returns the lowercase name used in logs, metrics and JSON.
func (t Tier) String() string {
	switch t {
	case TierCustom:
		return "custom"
	case TierBuiltIn:
		return "builtin"
	case TierPhonetic:
		return "phonetic"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (t *Tier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "custom":
		*t = TierCustom
	case "builtin":
		*t = TierBuiltIn
	case "phonetic":
		*t = TierPhonetic
	default:
		return fmt.Errorf("correct: unknown tier %q", b)
	}
	return nil
}

// Level buckets a confidence value for display.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Suggestion is one proposed replacement in analysed text.
type Suggestion struct {
	// Original is the matched source text, text[StartIndex:EndIndex].
	Original string `json:"original"`

	// Suggestion is the replacement, with capture groups expanded for regex
	// rules.
	Suggestion string `json:"suggestion"`

	// Confidence in (floor, 1] after feedback adjustment.
	Confidence float64 `json:"confidence"`

	RuleID string `json:"ruleId"`

	// Pattern is the rule's feedback key (see [rules.Rule.Key]). Pass it to
	// [Engine.RecordFeedback] when the user accepts or rejects.
	Pattern string `json:"pattern"`

	// StartIndex and EndIndex are half-open byte offsets into the UTF-8
	// source text.
	StartIndex int `json:"startIndex"`
	EndIndex   int `json:"endIndex"`

	Tier     Tier `json:"tier"`
	Priority int  `json:"priority"`
}

// IsCustom reports whether the suggestion came from a custom rule.
func (s Suggestion) IsCustom() bool { return s.Tier == TierCustom }

// Level maps the confidence to high (>= 0.8), medium (>= 0.6) or low.
func (s Suggestion) Level() Level {
	switch {
	case s.Confidence >= 0.8:
		return LevelHigh
	case s.Confidence >= 0.6:
		return LevelMedium
	default:
		return LevelLow
	}
}
