// Package steps holds the declarative step table of the questionnaire and the
// sequencer that walks it.
package steps

import (
	"fmt"

	"advisory-portal/pkg/registry"
)

// Kind tells the sequencer whether a step repeats per qualified goal.
type Kind string

const (
	KindPlain        Kind = "plain"
	KindGoalIterated Kind = "goal_iterated"
)

type Step struct {
	Ordinal  int    `json:"ordinal"`
	Kind     Kind   `json:"kind"`
	Renderer string `json:"renderer"`
	Title    string `json:"title"`
	// Keys are the top-level answer keys the step writes; they drive the
	// coverage estimate.
	Keys []string `json:"keys,omitempty"`
	// Checkpoint marks a major transition: leaving the step saves remotely.
	Checkpoint bool `json:"checkpoint,omitempty"`
}

// Table is an immutable, validated list of steps indexed by ordinal.
type Table struct {
	steps []Step
}

// NewTable validates steps and builds a table. Ordinals must run 1..N in
// order, renderers must be unique and the first and last steps must be plain.
func NewTable(steps []Step) (*Table, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("step table is empty")
	}

	renderers := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.Ordinal != i+1 {
			return nil, fmt.Errorf("step %d has ordinal %d, ordinals must be contiguous from 1", i+1, s.Ordinal)
		}
		if s.Kind != KindPlain && s.Kind != KindGoalIterated {
			return nil, fmt.Errorf("step %d has unknown kind %q", s.Ordinal, s.Kind)
		}
		if s.Renderer == "" {
			return nil, fmt.Errorf("step %d has no renderer", s.Ordinal)
		}
		if renderers[s.Renderer] {
			return nil, fmt.Errorf("renderer %q is used by more than one step", s.Renderer)
		}
		renderers[s.Renderer] = true
	}

	if steps[0].Kind != KindPlain {
		return nil, fmt.Errorf("first step must be plain")
	}
	if steps[len(steps)-1].Kind != KindPlain {
		return nil, fmt.Errorf("last step must be plain")
	}

	out := make([]Step, len(steps))
	for i, s := range steps {
		s.Keys = append([]string(nil), s.Keys...)
		out[i] = s
	}
	return &Table{steps: out}, nil
}

// FromRegistry builds a table from a step registry file.
func FromRegistry(reg *registry.StepRegistry) (*Table, error) {
	steps := make([]Step, len(reg.Steps))
	for i, d := range reg.Steps {
		steps[i] = Step{
			Ordinal:    d.Ordinal,
			Kind:       Kind(d.Kind),
			Renderer:   d.Renderer,
			Title:      d.Title,
			Keys:       d.Keys,
			Checkpoint: d.Checkpoint,
		}
	}
	return NewTable(steps)
}

// LoadTable reads a step table file; an empty path yields the built-in table.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, err
	}
	return FromRegistry(reg)
}

// ToRegistry converts the table back into its file form.
func (t *Table) ToRegistry(version string) *registry.StepRegistry {
	reg := &registry.StepRegistry{Version: version}
	for _, s := range t.steps {
		reg.Steps = append(reg.Steps, registry.StepDefinition{
			Ordinal:    s.Ordinal,
			Kind:       string(s.Kind),
			Renderer:   s.Renderer,
			Title:      s.Title,
			Keys:       append([]string(nil), s.Keys...),
			Checkpoint: s.Checkpoint,
		})
	}
	return reg
}

// Len is the number of ordinals N.
func (t *Table) Len() int {
	return len(t.steps)
}

// Step returns the step at ordinal (1-based).
func (t *Table) Step(ordinal int) (Step, bool) {
	if ordinal < 1 || ordinal > len(t.steps) {
		return Step{}, false
	}
	return t.steps[ordinal-1], true
}

func (t *Table) Steps() []Step {
	out := make([]Step, len(t.steps))
	copy(out, t.steps)
	return out
}

// ExpectedAnswerKeys lists the distinct answer keys the table asks for.
func (t *Table) ExpectedAnswerKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, s := range t.steps {
		for _, k := range s.Keys {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func (t *Table) kindAt(ordinal int) Kind {
	return t.steps[ordinal-1].Kind
}

// DefaultSteps is the fifteen-step financial questionnaire.
func DefaultSteps() []Step {
	return []Step{
		{Ordinal: 1, Kind: KindPlain, Renderer: "personal_profile", Title: "About you", Keys: []string{"ageBand", "employmentStatus"}},
		{Ordinal: 2, Kind: KindPlain, Renderer: "household", Title: "Your household", Keys: []string{"maritalStatus", "dependants"}},
		{Ordinal: 3, Kind: KindPlain, Renderer: "income", Title: "Income", Keys: []string{"annualIncome", "incomeStability"}},
		{Ordinal: 4, Kind: KindPlain, Renderer: "assets", Title: "What you own", Keys: []string{"assets"}},
		{Ordinal: 5, Kind: KindPlain, Renderer: "liabilities", Title: "What you owe", Keys: []string{"liabilities"}, Checkpoint: true},
		{Ordinal: 6, Kind: KindPlain, Renderer: "investment_experience", Title: "Investing experience", Keys: []string{"investmentKnowledge", "investmentExperience"}},
		{Ordinal: 7, Kind: KindPlain, Renderer: "goal_selection", Title: "Your goals"},
		{Ordinal: 8, Kind: KindPlain, Renderer: "goal_prioritization", Title: "Prioritise your goals", Checkpoint: true},
		{Ordinal: 9, Kind: KindGoalIterated, Renderer: "goal_timeline", Title: "When do you need it?"},
		{Ordinal: 10, Kind: KindGoalIterated, Renderer: "goal_risk_appetite", Title: "Appetite for risk"},
		{Ordinal: 11, Kind: KindGoalIterated, Renderer: "goal_risk_tolerance", Title: "Tolerance for losses"},
		{Ordinal: 12, Kind: KindGoalIterated, Renderer: "goal_market_response", Title: "When markets fall", Checkpoint: true},
		{Ordinal: 13, Kind: KindPlain, Renderer: "protection", Title: "Protecting your family", Keys: []string{"lifeCover", "incomeProtection"}},
		{Ordinal: 14, Kind: KindPlain, Renderer: "estate_planning", Title: "Estate planning", Keys: []string{"hasWill", "powerOfAttorney"}},
		{Ordinal: 15, Kind: KindPlain, Renderer: "review", Title: "Review and submit", Keys: []string{"consent"}},
	}
}

// DefaultTable returns the validated default table.
func DefaultTable() *Table {
	t, err := NewTable(DefaultSteps())
	if err != nil {
		panic(err)
	}
	return t
}
