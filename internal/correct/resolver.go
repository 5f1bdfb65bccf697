package correct

import (
	"cmp"
	"slices"
)

// Resolve removes overlapping suggestions. Candidates are ranked by tier
// (custom, then built-in, then phonetic), then by higher priority, then by
// their position in cands, which callers pass in discovery order. Each
// candidate is accepted unless it overlaps an already accepted one. The
// result is ordered by StartIndex.
//
// Two spans [s1,e1) and [s2,e2) overlap when s1 < e2 && s2 < e1, so adjacent
// spans and empty spans at a boundary never conflict.
func Resolve(cands []Suggestion) []Suggestion {
	ranked := slices.Clone(cands)
	slices.SortStableFunc(ranked, func(a, b Suggestion) int {
		if c := cmp.Compare(a.Tier, b.Tier); c != 0 {
			return c
		}
		return cmp.Compare(b.Priority, a.Priority)
	})

	accepted := make([]Suggestion, 0, len(ranked))
	for _, c := range ranked {
		if !slices.ContainsFunc(accepted, func(a Suggestion) bool { return overlaps(a, c) }) {
			accepted = append(accepted, c)
		}
	}

	slices.SortStableFunc(accepted, func(a, b Suggestion) int {
		if c := cmp.Compare(a.StartIndex, b.StartIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.EndIndex, b.EndIndex)
	})
	return accepted
}

func overlaps(a, b Suggestion) bool {
	return a.StartIndex < b.EndIndex && b.StartIndex < a.EndIndex
}
