package steps

import (
	"sort"

	"advisory-portal/internal/questionnaire/answers"
)

// Position is where the wizard currently is. GoalIndex indexes the qualified
// goal list and is only meaningful on goal-iterated steps.
type Position struct {
	Ordinal   int `json:"ordinal"`
	GoalIndex int `json:"goalIndex"`
}

// TransitionKind classifies the outcome of Next or Previous.
type TransitionKind string

const (
	TransitionMoved     TransitionKind = "moved"
	TransitionUnchanged TransitionKind = "unchanged"
	TransitionComplete  TransitionKind = "complete"
)

type Transition struct {
	Kind TransitionKind `json:"kind"`
	From Position       `json:"from"`
	To   Position       `json:"to"`
	// Milestones lists milestone ordinals crossed for the first time.
	Milestones []int `json:"milestones,omitempty"`
	// CheckpointDue is set when the move left a step flagged Checkpoint.
	CheckpointDue bool `json:"checkpointDue,omitempty"`
}

// QualifiedFunc returns the current qualified goals; it is called on every
// transition so interest changes take effect without re-initialization.
type QualifiedFunc func() []answers.Goal

// CurrentStep is what the UI renders.
type CurrentStep struct {
	Step      Step          `json:"step"`
	Position  Position      `json:"position"`
	Total     int           `json:"total"`
	Goal      *answers.Goal `json:"goal,omitempty"`
	GoalCount int           `json:"goalCount"`
	Finished  bool          `json:"finished"`
}

// Sequencer owns the step position. Bounds are no-ops, never errors.
type Sequencer struct {
	table      *Table
	qualified  QualifiedFunc
	pos        Position
	milestones []int
	awarded    map[int]bool
	finished   bool
}

func NewSequencer(table *Table, qualified QualifiedFunc, milestones []int) *Sequencer {
	ms := append([]int(nil), milestones...)
	sort.Ints(ms)
	return &Sequencer{
		table:      table,
		qualified:  qualified,
		pos:        Position{Ordinal: 1},
		milestones: ms,
		awarded:    make(map[int]bool),
	}
}

func (s *Sequencer) Table() *Table {
	return s.table
}

func (s *Sequencer) Position() Position {
	return s.pos
}

func (s *Sequencer) Finished() bool {
	return s.finished
}

// MarkFinished freezes the sequencer after a successful final submission.
func (s *Sequencer) MarkFinished() {
	s.finished = true
}

// Current describes the step at the current position, including the goal the
// step is asking about when it is goal-iterated.
func (s *Sequencer) Current() CurrentStep {
	step, _ := s.table.Step(s.pos.Ordinal)
	cur := CurrentStep{
		Step:     step,
		Position: s.pos,
		Total:    s.table.Len(),
		Finished: s.finished,
	}
	if step.Kind != KindGoalIterated {
		return cur
	}

	goals := s.qualified()
	cur.GoalCount = len(goals)
	if len(goals) == 0 {
		return cur
	}
	idx := clampIndex(s.pos.GoalIndex, len(goals))
	cur.Position.GoalIndex = idx
	g := goals[idx]
	cur.Goal = &g
	return cur
}

// Next advances one goal within a goal-iterated step, or one ordinal,
// skipping goal-iterated steps that have no qualified goals. Next on the
// last reachable step reports TransitionComplete without moving.
func (s *Sequencer) Next() Transition {
	from := s.pos
	if s.finished {
		return Transition{Kind: TransitionUnchanged, From: from, To: from}
	}

	k := len(s.qualified())
	if s.table.kindAt(from.Ordinal) == KindGoalIterated && k > 0 {
		idx := clampIndex(from.GoalIndex, k)
		if idx < k-1 {
			s.pos = Position{Ordinal: from.Ordinal, GoalIndex: idx + 1}
			return Transition{Kind: TransitionMoved, From: from, To: s.pos}
		}
	}

	o := from.Ordinal + 1
	for o <= s.table.Len() && s.zeroWidth(o, k) {
		o++
	}
	if o > s.table.Len() {
		return Transition{Kind: TransitionComplete, From: from, To: from}
	}

	s.pos = Position{Ordinal: o}
	return Transition{
		Kind:          TransitionMoved,
		From:          from,
		To:            s.pos,
		Milestones:    s.award(from.Ordinal, o),
		CheckpointDue: s.checkpointBetween(from.Ordinal, o),
	}
}

// Previous is the mirror of Next. Stepping back into a goal-iterated step
// resumes at its last qualified goal, so Previous undoes Next exactly.
func (s *Sequencer) Previous() Transition {
	from := s.pos
	if s.finished {
		return Transition{Kind: TransitionUnchanged, From: from, To: from}
	}

	k := len(s.qualified())
	if s.table.kindAt(from.Ordinal) == KindGoalIterated && k > 0 {
		idx := clampIndex(from.GoalIndex, k)
		if idx > 0 {
			s.pos = Position{Ordinal: from.Ordinal, GoalIndex: idx - 1}
			return Transition{Kind: TransitionMoved, From: from, To: s.pos}
		}
	}

	o := from.Ordinal - 1
	for o >= 1 && s.zeroWidth(o, k) {
		o--
	}
	if o < 1 {
		return Transition{Kind: TransitionUnchanged, From: from, To: from}
	}

	idx := 0
	if s.table.kindAt(o) == KindGoalIterated {
		idx = k - 1
	}
	s.pos = Position{Ordinal: o, GoalIndex: idx}
	return Transition{Kind: TransitionMoved, From: from, To: s.pos}
}

func (s *Sequencer) zeroWidth(ordinal, qualifiedCount int) bool {
	return s.table.kindAt(ordinal) == KindGoalIterated && qualifiedCount == 0
}

// award returns milestones in (from, to] not awarded before.
func (s *Sequencer) award(from, to int) []int {
	var crossed []int
	for _, m := range s.milestones {
		if m > from && m <= to && !s.awarded[m] {
			s.awarded[m] = true
			crossed = append(crossed, m)
		}
	}
	return crossed
}

func (s *Sequencer) checkpointBetween(from, to int) bool {
	for o := from; o < to; o++ {
		if step, ok := s.table.Step(o); ok && step.Checkpoint {
			return true
		}
	}
	return false
}

func clampIndex(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}
