package rules

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a validation failure.
type ErrorKind string

// Validation failure kinds.
const (
	KindEmptyField        ErrorKind = "EmptyField"
	KindInvalidPattern    ErrorKind = "InvalidPattern"
	KindInvalidConfidence ErrorKind = "InvalidConfidence"
)

// Sentinel errors returned by [Store] mutations. Use [errors.Is] to test.
var (
	ErrEmptyField        = errors.New("rules: pattern and replacement are required")
	ErrInvalidPattern    = errors.New("rules: invalid regex pattern")
	ErrInvalidConfidence = errors.New("rules: base confidence must be within [0,1]")
	ErrRuleLimitExceeded = errors.New("rules: maximum number of rules reached")
	ErrNotFound          = errors.New("rules: rule not found")
	ErrImmutableRule     = errors.New("rules: built-in rules cannot be modified or deleted")
	ErrInvalidExport     = errors.New("rules: invalid rules export")
	ErrTemplateNotFound  = errors.New("rules: template not found")
)

// sentinel maps a kind to its sentinel error.
func (k ErrorKind) sentinel() error {
	switch k {
	case KindEmptyField:
		return ErrEmptyField
	case KindInvalidPattern:
		return ErrInvalidPattern
	case KindInvalidConfidence:
		return ErrInvalidConfidence
	default:
		return nil
	}
}

// ValidationError is returned by store mutations whose candidate rule fails
// [Validate]. It unwraps to the sentinel for its kind.
type ValidationError struct {
	Kind    ErrorKind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rules: validation failed (%s): %s", e.Kind, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Kind.sentinel() }

// WarningKind classifies a non-fatal validation finding.
type WarningKind string

// Warning kinds surfaced alongside a successful validation.
const (
	WarnDuplicatePattern  WarningKind = "DuplicatePattern"
	WarnSelfReferential   WarningKind = "SelfReferential"
	WarnUnboundedWildcard WarningKind = "UnboundedWildcard"
)

// Warning is a non-fatal validation finding.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`

	// RuleID names the conflicting rule for [WarnDuplicatePattern].
	RuleID string `json:"ruleId,omitempty"`
}
