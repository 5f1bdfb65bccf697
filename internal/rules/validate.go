package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Result is the outcome of [Validate]. Invalid results carry a Kind and a
// human-readable Message; valid results may still carry warnings.
type Result struct {
	Valid    bool      `json:"valid"`
	Kind     ErrorKind `json:"kind,omitempty"`
	Message  string    `json:"message,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Err returns a [*ValidationError] for an invalid result and nil otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Kind: r.Kind, Message: r.Message}
}

// HasWarning reports whether r carries a warning of kind k.
func (r Result) HasWarning(k WarningKind) bool {
	for _, w := range r.Warnings {
		if w.Kind == k {
			return true
		}
	}
	return false
}

func invalid(kind ErrorKind, format string, args ...any) Result {
	return Result{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validate checks candidate for structural correctness against the rules
// already present in existing. It has no side effects and never returns an
// error; failures are reported through the [Result].
//
// Checks, in order:
//   - Pattern and Replacement must be non-empty after trimming.
//   - Regex patterns must compile.
//   - BaseConfidence must lie in [0,1].
//   - A rule in existing with a different ID and the same pattern
//     (case-insensitive, same IsRegex) yields [WarnDuplicatePattern].
//   - A replacement containing the pattern yields [WarnSelfReferential].
//   - A regex using ".*" without any group yields [WarnUnboundedWildcard].
func Validate(candidate Rule, existing []Rule) Result {
	pattern := strings.TrimSpace(candidate.Pattern)
	replacement := strings.TrimSpace(candidate.Replacement)

	if pattern == "" {
		return invalid(KindEmptyField, "misspelling pattern is required")
	}
	if replacement == "" {
		return invalid(KindEmptyField, "correction is required")
	}

	var warnings []Warning
	if candidate.IsRegex {
		if _, err := regexp.Compile(candidate.Pattern); err != nil {
			return invalid(KindInvalidPattern, "invalid regex pattern: %v", err)
		}
		if strings.Contains(candidate.Pattern, ".*") && !strings.Contains(candidate.Pattern, "(") {
			warnings = append(warnings, Warning{
				Kind:    WarnUnboundedWildcard,
				Message: "using .* without capture groups may produce unexpected results",
			})
		}
	}

	if candidate.BaseConfidence < 0 || candidate.BaseConfidence > 1 {
		return invalid(KindInvalidConfidence, "base confidence %v is outside [0,1]", candidate.BaseConfidence)
	}

	for _, r := range existing {
		if r.ID == candidate.ID || r.IsRegex != candidate.IsRegex {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(r.Pattern), pattern) {
			warnings = append(warnings, Warning{
				Kind:    WarnDuplicatePattern,
				Message: fmt.Sprintf("similar rule already exists: %q → %q", r.Pattern, r.Replacement),
				RuleID:  r.ID,
			})
			break
		}
	}

	if strings.Contains(strings.ToLower(replacement), strings.ToLower(pattern)) {
		warnings = append(warnings, Warning{
			Kind:    WarnSelfReferential,
			Message: "correction contains the misspelling; applying it repeatedly keeps matching",
		})
	}

	return Result{Valid: true, Warnings: warnings}
}
