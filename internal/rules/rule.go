// Package rules owns the phonetic correction rule model: the two-tier rule
// store (fixed built-ins and user-authored custom rules), the structural
// validator, the import/export envelope and the bundled rule templates.
//
// Rules are plain data. A rule's pattern is either a literal word or phrase
// or a regular expression, tagged by [Rule.IsRegex]; compilation happens at
// match time in package correct so that the persisted and exported form stays
// engine-neutral.
package rules

import (
	"slices"
	"strings"
	"time"
)

// Default values applied to custom rules that leave the field at zero.
const (
	DefaultCustomPriority  = 2
	DefaultBuiltInPriority = 1
	DefaultBaseConfidence  = 0.9
	DefaultMaxRules        = 100
)

// Usage holds accept/reject counters for a rule. It is mutated only by
// feedback recording.
type Usage struct {
	TimesApplied  int        `json:"timesApplied" yaml:"-"`
	TimesRejected int        `json:"timesRejected" yaml:"-"`
	LastUsed      *time.Time `json:"lastUsed,omitempty" yaml:"-"`
}

// Rule is a pattern → replacement mapping with metadata.
type Rule struct {
	// ID is unique across built-in and custom rules.
	ID string `json:"id" yaml:"id,omitempty"`

	// Pattern is a literal word or phrase, or a regular expression when
	// IsRegex is set.
	Pattern string `json:"pattern" yaml:"pattern"`

	// Replacement is substituted for a match. Regex rules may reference
	// capture groups ($1, ${name}).
	Replacement string `json:"replacement" yaml:"replacement"`

	IsRegex       bool `json:"isRegex" yaml:"isRegex,omitempty"`
	CaseSensitive bool `json:"caseSensitive" yaml:"caseSensitive,omitempty"`
	Enabled       bool `json:"enabled" yaml:"enabled"`

	// Priority breaks ties between overlapping matches of the same tier.
	// Higher wins.
	Priority int `json:"priority" yaml:"priority,omitempty"`

	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty"`

	// Language is an optional language tag ("en", "en-GB"). Empty means the
	// rule applies to every language.
	Language string `json:"language,omitempty" yaml:"language,omitempty"`

	// BaseConfidence in [0,1] is the confidence before feedback adjustment.
	BaseConfidence float64 `json:"baseConfidence" yaml:"baseConfidence,omitempty"`

	Usage     Usage     `json:"usage" yaml:"-"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`

	// BuiltIn marks rules of the fixed tier. It is never serialized; the
	// store derives it from the collection a rule lives in.
	BuiltIn bool `json:"-" yaml:"-"`
}

// Key returns the identity under which feedback for this rule is recorded:
// the description when set, the id otherwise. Rules sharing a description
// share feedback.
func (r Rule) Key() string {
	if r.Description != "" {
		return r.Description
	}
	return r.ID
}

// Clone returns a deep copy of r.
func (r Rule) Clone() Rule {
	r.Examples = slices.Clone(r.Examples)
	if r.Usage.LastUsed != nil {
		t := *r.Usage.LastUsed
		r.Usage.LastUsed = &t
	}
	return r
}

// MatchesLanguage reports whether the rule applies to text in language tag.
// An empty tag on either side matches everything; otherwise the tags must be
// equal or the rule's tag must be a prefix subtag of tag ("en" matches
// "en-GB").
func (r Rule) MatchesLanguage(tag string) bool {
	if r.Language == "" || tag == "" {
		return true
	}
	if strings.EqualFold(r.Language, tag) {
		return true
	}
	prefix := r.Language + "-"
	return len(tag) > len(prefix) && strings.EqualFold(tag[:len(prefix)], prefix)
}

// Patch describes a partial update to a custom rule. Nil fields are left
// unchanged.
type Patch struct {
	Pattern        *string
	Replacement    *string
	IsRegex        *bool
	CaseSensitive  *bool
	Enabled        *bool
	Priority       *int
	Description    *string
	Examples       *[]string
	Language       *string
	BaseConfidence *float64
	Usage          *Usage
	CreatedAt      *time.Time
}

// PatchFrom returns a patch that overwrites every content field of a rule
// with the values in r. ID, timestamps and usage are not included.
func PatchFrom(r Rule) Patch {
	examples := slices.Clone(r.Examples)
	return Patch{
		Pattern:        &r.Pattern,
		Replacement:    &r.Replacement,
		IsRegex:        &r.IsRegex,
		CaseSensitive:  &r.CaseSensitive,
		Enabled:        &r.Enabled,
		Priority:       &r.Priority,
		Description:    &r.Description,
		Examples:       &examples,
		Language:       &r.Language,
		BaseConfidence: &r.BaseConfidence,
	}
}

// apply merges p into r and returns the result.
func (p Patch) apply(r Rule) Rule {
	if p.Pattern != nil {
		r.Pattern = *p.Pattern
	}
	if p.Replacement != nil {
		r.Replacement = *p.Replacement
	}
	if p.IsRegex != nil {
		r.IsRegex = *p.IsRegex
	}
	if p.CaseSensitive != nil {
		r.CaseSensitive = *p.CaseSensitive
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Examples != nil {
		r.Examples = slices.Clone(*p.Examples)
	}
	if p.Language != nil {
		r.Language = *p.Language
	}
	if p.BaseConfidence != nil {
		r.BaseConfidence = *p.BaseConfidence
	}
	if p.Usage != nil {
		r.Usage = *p.Usage
	}
	if p.CreatedAt != nil {
		r.CreatedAt = *p.CreatedAt
	}
	return r
}
