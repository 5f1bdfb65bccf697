package correct

import "strings"

// Scoring defaults.
const (
	DefaultConfidenceFloor = 0.3
	DefaultFeedbackWeight  = 0.5
)

// Scorer turns a rule's base confidence into the confidence reported to the
// caller.
type Scorer struct {
	// Floor is the exclusive lower bound: matches scoring at or below it are
	// dropped.
	Floor float64

	// Weight in [0,1] is how strongly the acceptance rate pulls the base
	// confidence. With weight w and rate r the factor is 1 - w + r*w, so 0
	// ignores feedback and 1 scales the base by the raw rate.
	Weight float64
}

// DefaultScorer returns a Scorer with [DefaultConfidenceFloor] and
// [DefaultFeedbackWeight].
func DefaultScorer() Scorer {
	return Scorer{Floor: DefaultConfidenceFloor, Weight: DefaultFeedbackWeight}
}

// Adjust applies recorded feedback to base. Without feedback the base is
// returned unchanged.
func (s Scorer) Adjust(base float64, pref UserPreference) float64 {
	if pref.Total() == 0 {
		return base
	}
	return base * (1 - s.Weight + pref.AcceptanceRate()*s.Weight)
}

// Score returns the adjusted confidence and whether the match survives. It
// does not survive when the confidence is at or below the floor, or when the
// replacement equals the original ignoring case.
func (s Scorer) Score(original, replacement string, base float64, pref UserPreference) (float64, bool) {
	if strings.EqualFold(original, replacement) {
		return 0, false
	}
	c := s.Adjust(base, pref)
	if c <= s.Floor {
		return c, false
	}
	return c, true
}
