package rules

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var bundledTemplates []byte

// Difficulty grades a [Template].
type Difficulty string

// Template difficulty levels.
const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// IsValid reports whether d is a recognised difficulty.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	default:
		return false
	}
}

// Template is a named pack of rules that can be applied in one step.
type Template struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Category    string         `yaml:"category"`
	Difficulty  Difficulty     `yaml:"difficulty"`
	Language    string         `yaml:"language"`
	Rules       []TemplateRule `yaml:"rules"`
}

// TemplateRule is the catalogue form of a rule. Enabled defaults to true.
type TemplateRule struct {
	Pattern       string   `yaml:"pattern"`
	Replacement   string   `yaml:"replacement"`
	IsRegex       bool     `yaml:"isRegex"`
	CaseSensitive bool     `yaml:"caseSensitive"`
	Enabled       *bool    `yaml:"enabled"`
	Description   string   `yaml:"description"`
	Examples      []string `yaml:"examples"`
}

// RuleSet converts the template's rules into custom rule candidates. The
// template language is applied to every rule.
func (t Template) RuleSet() []Rule {
	out := make([]Rule, 0, len(t.Rules))
	for _, tr := range t.Rules {
		enabled := tr.Enabled == nil || *tr.Enabled
		out = append(out, Rule{
			Pattern:       tr.Pattern,
			Replacement:   tr.Replacement,
			IsRegex:       tr.IsRegex,
			CaseSensitive: tr.CaseSensitive,
			Enabled:       enabled,
			Description:   tr.Description,
			Examples:      slices.Clone(tr.Examples),
			Language:      t.Language,
		})
	}
	return out
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// ParseTemplates decodes a template catalogue and checks that every template
// has an id, a valid difficulty and structurally valid rules.
func ParseTemplates(r io.Reader) ([]Template, error) {
	var tf templateFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil {
		return nil, fmt.Errorf("rules: decode templates: %w", err)
	}

	seen := make(map[string]bool, len(tf.Templates))
	for _, t := range tf.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("rules: template %q has no id", t.Name)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("rules: duplicate template id %q", t.ID)
		}
		seen[t.ID] = true
		if !t.Difficulty.IsValid() {
			return nil, fmt.Errorf("rules: template %q: unknown difficulty %q", t.ID, t.Difficulty)
		}
		for i, r := range t.RuleSet() {
			if res := Validate(r, nil); !res.Valid {
				return nil, fmt.Errorf("rules: template %q rule %d: %w", t.ID, i+1, res.Err())
			}
		}
	}
	return tf.Templates, nil
}

var loadBundled = sync.OnceValues(func() ([]Template, error) {
	return ParseTemplates(bytes.NewReader(bundledTemplates))
})

// Templates returns the bundled template catalogue. It panics if the
// embedded catalogue is malformed, which the package tests rule out.
func Templates() []Template {
	ts, err := loadBundled()
	if err != nil {
		panic(err)
	}
	return slices.Clone(ts)
}

// TemplateByID returns the bundled template with the given id.
// Returns [ErrTemplateNotFound] when none matches.
func TemplateByID(id string) (Template, error) {
	for _, t := range Templates() {
		if t.ID == id {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
}

// TemplatesByDifficulty returns the bundled templates of level d.
func TemplatesByDifficulty(d Difficulty) []Template {
	var out []Template
	for _, t := range Templates() {
		if t.Difficulty == d {
			out = append(out, t)
		}
	}
	return out
}

// SearchTemplates returns bundled templates whose name, description or
// category contains query, case-insensitively.
func SearchTemplates(query string) []Template {
	q := strings.ToLower(query)
	var out []Template
	for _, t := range Templates() {
		if strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(t.Description), q) ||
			strings.Contains(strings.ToLower(t.Category), q) {
			out = append(out, t)
		}
	}
	return out
}
