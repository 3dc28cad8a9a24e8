// Package progress derives the completion percentage shown to clients. It
// keeps no state of its own.
package progress

import (
	"math"

	"advisory-portal/internal/questionnaire/answers"
	"advisory-portal/internal/questionnaire/qualification"
	"advisory-portal/internal/questionnaire/steps"
)

type Mode string

const (
	ModeStep     Mode = "step"
	ModeCoverage Mode = "coverage"
)

type Progress struct {
	Percent  int  `json:"percent"`
	Mode     Mode `json:"mode"`
	Complete bool `json:"complete"`
}

// Weights are the relative contributions of each answer section to the
// coverage estimate. Answer applies to every expected top-level key.
type Weights struct {
	Answer             int
	GoalSelection      int
	GoalPrioritization int
	GoalDetails        int
}

func DefaultWeights() Weights {
	return Weights{Answer: 1, GoalSelection: 3, GoalPrioritization: 2, GoalDetails: 4}
}

// StepBased is the wizard's own indicator: ordinal over total, rounded.
func StepBased(pos steps.Position, total int, complete bool) Progress {
	p := Progress{Mode: ModeStep, Complete: complete}
	if total <= 0 {
		return p
	}
	p.Percent = clamp(int(math.Round(float64(pos.Ordinal) / float64(total) * 100)))
	return p
}

// CoverageBased estimates completeness from the answers alone, for views
// that do not know the wizard position.
func CoverageBased(state answers.State, expectedKeys []string, w Weights, complete bool) Progress {
	p := Progress{Mode: ModeCoverage, Complete: complete}

	total := float64(w.Answer*len(expectedKeys) + w.GoalSelection + w.GoalPrioritization + w.GoalDetails)
	if total <= 0 {
		return p
	}

	var score float64
	for _, k := range expectedKeys {
		if populated(state.Answers[k]) {
			score += float64(w.Answer)
		}
	}

	selected := goalsSelected(state.Goals)
	if selected {
		score += float64(w.GoalSelection)
	}

	qualified := qualification.Qualified(state.Goals)
	switch {
	case len(qualified) == 0 && selected:
		// nothing qualified, so nothing left to prioritize or detail
		score += float64(w.GoalPrioritization + w.GoalDetails)
	case len(qualified) > 0:
		if populated(state.Answers[answers.KeyGoalPriorities]) {
			score += float64(w.GoalPrioritization)
		}
		score += float64(w.GoalDetails) * detailCompleteness(qualified, state.GoalDetails)
	}

	p.Percent = clamp(int(math.Round(score / total * 100)))
	return p
}

// goalsSelected reports whether the client touched goal selection at all.
func goalsSelected(goals []answers.Goal) bool {
	for _, g := range goals {
		if g.Custom || g.Interest != answers.DefaultInterest {
			return true
		}
	}
	return false
}

func detailCompleteness(qualified []answers.Goal, details map[string]answers.GoalDetail) float64 {
	filled := 0
	for _, g := range qualified {
		filled += details[g.ID].FilledFields()
	}
	return float64(filled) / float64(len(answers.GoalDetailFields)*len(qualified))
}

func populated(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

func clamp(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
