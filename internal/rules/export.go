package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// ExportVersion is the envelope version written by [Store.Export].
const ExportVersion = "1.0.0"

// Export is the JSON import/export envelope.
type Export struct {
	Version    string         `json:"version"`
	ExportedAt time.Time      `json:"exportedAt"`
	Rules      []Rule         `json:"rules"`
	Metadata   ExportMetadata `json:"metadata"`
}

// ExportMetadata summarises an [Export].
type ExportMetadata struct {
	TotalRules   int    `json:"totalRules"`
	EnabledRules int    `json:"enabledRules"`
	Platform     string `json:"platform"`
}

// Policy decides what [Store.Import] does with an incoming rule whose pattern
// already exists among the custom rules.
type Policy int

const (
	// PolicyRename imports the rule as a copy with " (imported)" appended to
	// the pattern.
	PolicyRename Policy = iota

	// PolicyOverwrite replaces the existing rule's content, keeping its ID and
	// creation time.
	PolicyOverwrite

	// PolicySkip leaves the existing rule alone.
	PolicySkip
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyRename:
		return "rename"
	case PolicyOverwrite:
		return "overwrite"
	case PolicySkip:
		return "skip"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts a policy name into a [Policy].
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "rename", "":
		return PolicyRename, nil
	case "overwrite":
		return PolicyOverwrite, nil
	case "skip":
		return PolicySkip, nil
	default:
		return 0, fmt.Errorf("rules: unknown import policy %q", s)
	}
}

// ImportResult counts the outcome of [Store.Import].
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`

	// Failures holds one error per rejected rule, in input order.
	Failures []error `json:"-"`
}

// Export returns the custom rules with the given ids, or every custom rule
// when ids is empty, wrapped in an envelope.
func (s *Store) Export(ids ...string) Export {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	out := Export{
		Version:    ExportVersion,
		ExportedAt: s.now().UTC(),
		Rules:      []Rule{},
		Metadata:   ExportMetadata{Platform: s.platform},
	}
	for _, r := range s.custom {
		if len(want) > 0 && !want[r.ID] {
			continue
		}
		out.Rules = append(out.Rules, r.Clone())
		if r.Enabled {
			out.Metadata.EnabledRules++
		}
	}
	out.Metadata.TotalRules = len(out.Rules)
	return out
}

// Import adds the rules of e to the custom tier. Every rule is validated
// before insertion; rules that fail are counted in [ImportResult.Errors] and
// the import continues. A rule whose pattern matches an existing custom rule
// (case-insensitive, same IsRegex) is handled according to policy.
//
// The returned error is non-nil only when the context is cancelled.
func (s *Store) Import(ctx context.Context, e Export, policy Policy) (ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ImportResult
	fail := func(i int, r Rule, err error) {
		res.Errors++
		res.Failures = append(res.Failures, fmt.Errorf("rule %d (%q): %w", i+1, r.Pattern, err))
		slog.Warn("rule import failed", "index", i, "pattern", r.Pattern, "err", err)
	}

	for i, in := range e.Rules {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		existing := s.findDuplicateLocked(in)
		if existing < 0 {
			if _, err := s.createLocked(ctx, in); err != nil {
				fail(i, in, err)
				continue
			}
			res.Imported++
			continue
		}

		switch policy {
		case PolicySkip:
			res.Skipped++

		case PolicyOverwrite:
			p := PatchFrom(in)
			p.Usage = &in.Usage
			if _, err := s.updateLocked(ctx, s.custom[existing].ID, p); err != nil {
				fail(i, in, err)
				continue
			}
			res.Imported++

		default:
			cp := in.Clone()
			cp.ID = ""
			cp.Pattern = in.Pattern + " (imported)"
			cp.Description = strings.TrimSpace(in.Description + " (imported copy)")
			if _, err := s.createLocked(ctx, cp); err != nil {
				fail(i, in, err)
				continue
			}
			res.Imported++
		}
	}

	if res.Imported > 0 {
		s.notify(ctx, "import", false)
	}
	slog.Info("rules imported",
		"policy", policy.String(),
		"imported", res.Imported,
		"skipped", res.Skipped,
		"errors", res.Errors)
	return res, nil
}

func (s *Store) findDuplicateLocked(r Rule) int {
	pattern := strings.TrimSpace(r.Pattern)
	for i, c := range s.custom {
		if c.IsRegex == r.IsRegex && strings.EqualFold(strings.TrimSpace(c.Pattern), pattern) {
			return i
		}
	}
	return -1
}

// ParseExport decodes and structurally checks an export envelope. It does
// not validate individual rules beyond the presence of pattern and
// replacement; [Store.Import] does that.
func ParseExport(r io.Reader) (Export, error) {
	var raw struct {
		Version    string            `json:"version"`
		ExportedAt time.Time         `json:"exportedAt"`
		Rules      []json.RawMessage `json:"rules"`
		Metadata   ExportMetadata    `json:"metadata"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Export{}, fmt.Errorf("%w: invalid JSON: %v", ErrInvalidExport, err)
	}

	var errs []error
	if raw.Version == "" {
		errs = append(errs, errors.New("missing version field"))
	}
	if raw.Rules == nil {
		errs = append(errs, errors.New("missing or invalid rules array"))
	}

	out := Export{
		Version:    raw.Version,
		ExportedAt: raw.ExportedAt,
		Rules:      make([]Rule, 0, len(raw.Rules)),
		Metadata:   raw.Metadata,
	}
	for i, msg := range raw.Rules {
		var rule Rule
		if err := json.Unmarshal(msg, &rule); err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %v", i+1, err))
			continue
		}
		if strings.TrimSpace(rule.Pattern) == "" {
			errs = append(errs, fmt.Errorf("rule %d: missing pattern field", i+1))
		}
		if strings.TrimSpace(rule.Replacement) == "" {
			errs = append(errs, fmt.Errorf("rule %d: missing replacement field", i+1))
		}
		out.Rules = append(out.Rules, rule)
	}

	if len(errs) > 0 {
		return Export{}, fmt.Errorf("%w: %w", ErrInvalidExport, errors.Join(errs...))
	}
	return out, nil
}
