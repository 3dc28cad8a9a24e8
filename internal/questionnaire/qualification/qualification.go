// Package qualification decides which goals need per-goal follow-up questions.
package qualification

import "advisory-portal/internal/questionnaire/answers"

// IsQualified reports whether a goal at this interest level gets follow-up questions.
func IsQualified(level answers.InterestLevel) bool {
	switch level {
	case answers.InterestAlreadyPlanned,
		answers.InterestStronglyInterested,
		answers.InterestWouldConsider:
		return true
	default:
		return false
	}
}

// Qualified returns the qualified goals in their list order. It allocates a
// fresh slice on every call and never touches goal details.
func Qualified(goals []answers.Goal) []answers.Goal {
	out := make([]answers.Goal, 0, len(goals))
	for _, g := range goals {
		if IsQualified(g.Interest) {
			out = append(out, g)
		}
	}
	return out
}

// QualifiedIDs is Qualified projected onto goal ids.
func QualifiedIDs(goals []answers.Goal) []string {
	q := Qualified(goals)
	ids := make([]string, len(q))
	for i, g := range q {
		ids[i] = g.ID
	}
	return ids
}
