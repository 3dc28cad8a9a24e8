// Package answers holds the in-memory record of everything a client has entered
// in the financial questionnaire.
package answers

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	apperrors "advisory-portal/internal/common/errors"

	"github.com/google/uuid"
)

// State is a detached, serializable copy of an Aggregate.
type State struct {
	Answers     map[string]interface{} `json:"answers"`
	Goals       []Goal                 `json:"goals"`
	GoalDetails map[string]GoalDetail  `json:"goalDetails"`
}

// Aggregate is the canonical answer state of one wizard session. It is not
// safe for concurrent use; the wizard engine serializes access.
type Aggregate struct {
	answers     map[string]interface{}
	goals       []Goal
	goalDetails map[string]GoalDetail
	catalog     []CatalogEntry
	newID       func() string
}

// New creates an empty aggregate seeded with the catalog goals.
func New(catalog []CatalogEntry) *Aggregate {
	a := &Aggregate{
		answers:     make(map[string]interface{}),
		goalDetails: make(map[string]GoalDetail),
		catalog:     catalog,
		newID:       uuid.NewString,
	}
	a.ensureCatalogGoals()
	return a
}

// FromState rebuilds an aggregate from a loaded snapshot. Catalog goals missing
// from the state are appended with the default interest level, values that do
// not normalize are dropped, and orphaned goal details are pruned.
func FromState(state State, catalog []CatalogEntry) *Aggregate {
	a := &Aggregate{
		answers:     make(map[string]interface{}, len(state.Answers)),
		goalDetails: make(map[string]GoalDetail, len(state.GoalDetails)),
		catalog:     catalog,
		newID:       uuid.NewString,
	}

	for k, v := range state.Answers {
		if k == KeyGoals || k == KeyGoalDetails {
			continue
		}
		if nv, err := normalizeValue(k, v, false); err == nil {
			a.answers[k] = nv
		}
	}

	seen := make(map[string]bool, len(state.Goals))
	for _, g := range state.Goals {
		if g.ID == "" || seen[g.ID] {
			continue
		}
		if !g.Interest.Valid() {
			g.Interest = DefaultInterest
		}
		seen[g.ID] = true
		a.goals = append(a.goals, g)
	}

	for id, d := range state.GoalDetails {
		a.goalDetails[id] = d
	}

	a.ensureCatalogGoals()
	a.PruneOrphanedDetails()
	return a
}

func (a *Aggregate) ensureCatalogGoals() {
	for _, entry := range a.catalog {
		if a.indexOf(entry.ID) >= 0 {
			continue
		}
		a.goals = append(a.goals, Goal{
			ID:       entry.ID,
			Name:     entry.Name,
			Interest: DefaultInterest,
		})
	}
}

func (a *Aggregate) indexOf(goalID string) int {
	for i, g := range a.goals {
		if g.ID == goalID {
			return i
		}
	}
	return -1
}

// State returns a deep copy of the aggregate.
func (a *Aggregate) State() State {
	return State{
		Answers:     a.Answers(),
		Goals:       a.Goals(),
		GoalDetails: a.GoalDetails(),
	}
}

// Answer returns a copy of the value stored at key.
func (a *Aggregate) Answer(key string) (interface{}, bool) {
	v, ok := a.answers[key]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

func (a *Aggregate) Answers() map[string]interface{} {
	out := make(map[string]interface{}, len(a.answers))
	for k, v := range a.answers {
		out[k] = copyValue(v)
	}
	return out
}

func (a *Aggregate) Goals() []Goal {
	out := make([]Goal, len(a.goals))
	copy(out, a.goals)
	return out
}

func (a *Aggregate) Goal(goalID string) (Goal, bool) {
	if i := a.indexOf(goalID); i >= 0 {
		return a.goals[i], true
	}
	return Goal{}, false
}

func (a *Aggregate) GoalDetail(goalID string) (GoalDetail, bool) {
	d, ok := a.goalDetails[goalID]
	return d, ok
}

func (a *Aggregate) GoalDetails() map[string]GoalDetail {
	out := make(map[string]GoalDetail, len(a.goalDetails))
	for k, v := range a.goalDetails {
		out[k] = v
	}
	return out
}

// UpdateAnswer replaces the value at a top-level key. Records are replaced
// wholesale, never merged.
func (a *Aggregate) UpdateAnswer(key string, value interface{}) error {
	if err := checkKey(key); err != nil {
		return err
	}
	nv, err := normalizeValue(key, value, true)
	if err != nil {
		return err
	}
	a.answers[key] = nv
	return nil
}

// UpdateNestedAnswer replaces one sub-key of a container-valued key and keeps
// its siblings. For goalDetails the sub-key is a goal id and value is the full
// detail record of that goal.
func (a *Aggregate) UpdateNestedAnswer(key, subkey string, value interface{}) error {
	if subkey == "" {
		return apperrors.NewInvalidAnswerValueError(key, "sub-key is empty")
	}

	switch key {
	case KeyGoals:
		return apperrors.NewReservedAnswerKeyError(key)
	case KeyGoalDetails:
		if a.indexOf(subkey) < 0 {
			return apperrors.NewUnknownGoalError(subkey)
		}
		detail, err := toGoalDetail(value)
		if err != nil {
			return apperrors.NewInvalidAnswerValueError(key, err.Error())
		}
		a.goalDetails[subkey] = detail
		return nil
	case KeyGoalPriorities:
		if a.indexOf(subkey) < 0 {
			return apperrors.NewUnknownGoalError(subkey)
		}
	}

	if key == "" {
		return apperrors.NewInvalidAnswerValueError(key, "key is empty")
	}

	leaf, err := normalizeLeaf(key, value)
	if err != nil {
		return err
	}

	record := map[string]interface{}{}
	if existing, ok := a.answers[key]; ok {
		existingRecord, isRecord := existing.(map[string]interface{})
		if !isRecord {
			return apperrors.NewInvalidAnswerValueError(key, "existing value is not a record")
		}
		record = copyRecord(existingRecord)
	}
	record[subkey] = leaf
	a.answers[key] = record
	return nil
}

// UpdateGoalDetail writes a single detail field, creating the detail record on
// first write.
func (a *Aggregate) UpdateGoalDetail(goalID, field, value string) error {
	if a.indexOf(goalID) < 0 {
		return apperrors.NewUnknownGoalError(goalID)
	}
	detail := a.goalDetails[goalID]
	if err := setDetailField(&detail, field, value); err != nil {
		return apperrors.NewInvalidAnswerValueError(KeyGoalDetails, err.Error())
	}
	a.goalDetails[goalID] = detail
	return nil
}

func (a *Aggregate) SetGoalInterest(goalID string, level InterestLevel) error {
	if !level.Valid() {
		return apperrors.NewInvalidAnswerValueError(KeyGoals, fmt.Sprintf("unknown interest level %q", level))
	}
	i := a.indexOf(goalID)
	if i < 0 {
		return apperrors.NewUnknownGoalError(goalID)
	}
	a.goals[i].Interest = level
	return nil
}

// AddCustomGoal appends a client-authored goal with a generated id.
func (a *Aggregate) AddCustomGoal(name string, level InterestLevel) (Goal, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Goal{}, apperrors.NewInvalidAnswerValueError(KeyGoals, "goal name is empty")
	}
	if level == "" {
		level = InterestWouldConsider
	}
	if !level.Valid() {
		return Goal{}, apperrors.NewInvalidAnswerValueError(KeyGoals, fmt.Sprintf("unknown interest level %q", level))
	}

	g := Goal{ID: a.newID(), Name: name, Interest: level, Custom: true}
	a.goals = append(a.goals, g)
	return g, nil
}

func (a *Aggregate) RenameGoal(goalID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.NewInvalidAnswerValueError(KeyGoals, "goal name is empty")
	}
	i := a.indexOf(goalID)
	if i < 0 {
		return apperrors.NewUnknownGoalError(goalID)
	}
	if !a.goals[i].Custom {
		return apperrors.NewCatalogGoalImmutableError(goalID)
	}
	a.goals[i].Name = name
	return nil
}

// RemoveGoal deletes a custom goal together with its detail and priority.
// Catalog goals are never deleted; they fall back to the default interest and
// keep their detail so re-selecting them restores earlier answers.
func (a *Aggregate) RemoveGoal(goalID string) error {
	i := a.indexOf(goalID)
	if i < 0 {
		return apperrors.NewUnknownGoalError(goalID)
	}
	if !a.goals[i].Custom {
		a.goals[i].Interest = DefaultInterest
		return nil
	}

	a.goals = append(a.goals[:i], a.goals[i+1:]...)
	a.PruneOrphanedDetails()
	return nil
}

// PruneOrphanedDetails drops detail and priority entries whose goal no longer
// exists and returns how many detail records were removed.
func (a *Aggregate) PruneOrphanedDetails() int {
	removed := 0
	for id := range a.goalDetails {
		if a.indexOf(id) < 0 {
			delete(a.goalDetails, id)
			removed++
		}
	}

	if priorities, ok := a.answers[KeyGoalPriorities].(map[string]interface{}); ok {
		var pruned map[string]interface{}
		for id := range priorities {
			if a.indexOf(id) >= 0 {
				continue
			}
			if pruned == nil {
				pruned = copyRecord(priorities)
			}
			delete(pruned, id)
		}
		if pruned != nil {
			a.answers[KeyGoalPriorities] = pruned
		}
	}
	return removed
}

func checkKey(key string) error {
	if key == "" {
		return apperrors.NewInvalidAnswerValueError(key, "key is empty")
	}
	if key == KeyGoals || key == KeyGoalDetails {
		return apperrors.NewReservedAnswerKeyError(key)
	}
	return nil
}

func setDetailField(d *GoalDetail, field, value string) error {
	switch field {
	case FieldTimeline:
		d.Timeline = value
	case FieldRiskAppetite:
		d.RiskAppetite = value
	case FieldRiskTolerance:
		d.RiskTolerance = value
	case FieldMarketResponse:
		d.MarketResponse = value
	default:
		return fmt.Errorf("unknown goal detail field %q", field)
	}
	return nil
}

func toGoalDetail(value interface{}) (GoalDetail, error) {
	switch t := value.(type) {
	case GoalDetail:
		return t, nil
	case *GoalDetail:
		if t == nil {
			return GoalDetail{}, fmt.Errorf("goal detail is nil")
		}
		return *t, nil
	case map[string]interface{}:
		var d GoalDetail
		for field, raw := range t {
			s, ok := raw.(string)
			if !ok {
				return GoalDetail{}, fmt.Errorf("goal detail field %q must be a string", field)
			}
			if err := setDetailField(&d, field, s); err != nil {
				return GoalDetail{}, err
			}
		}
		return d, nil
	default:
		return GoalDetail{}, fmt.Errorf("unsupported goal detail type %T", value)
	}
}

// normalizeValue accepts strings, booleans, integers and flat records. With
// enforceScale set, integers must be Likert answers between 1 and 5.
func normalizeValue(key string, v interface{}, enforceScale bool) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for sub, raw := range t {
			leaf, err := normalizeLeaf(key+"."+sub, raw)
			if err != nil {
				return nil, err
			}
			out[sub] = leaf
		}
		return out, nil
	case map[string]string:
		out := make(map[string]interface{}, len(t))
		for sub, s := range t {
			out[sub] = s
		}
		return out, nil
	}

	leaf, err := normalizeLeaf(key, v)
	if err != nil {
		return nil, err
	}
	if n, ok := leaf.(int); ok && enforceScale && (n < 1 || n > 5) {
		return nil, apperrors.NewInvalidAnswerValueError(key, fmt.Sprintf("scale answers must be between 1 and 5, got %d", n))
	}
	if _, ok := leaf.(float64); ok && enforceScale {
		return nil, apperrors.NewInvalidAnswerValueError(key, "scale answers must be whole numbers")
	}
	return leaf, nil
}

// maxExactInt is the largest magnitude a float64 holds without losing
// integer precision; larger amounts stay float64.
const maxExactInt = 1 << 53

func normalizeLeaf(key string, v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string, bool:
		return t, nil
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) <= maxExactInt {
			return int(t), nil
		}
		return t, nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, apperrors.NewInvalidAnswerValueError(key, err.Error())
		}
		return f, nil
	case nil:
		return nil, apperrors.NewInvalidAnswerValueError(key, "value is null")
	default:
		return nil, apperrors.NewInvalidAnswerValueError(key, fmt.Sprintf("unsupported type %T", v))
	}
}

func copyValue(v interface{}) interface{} {
	if rec, ok := v.(map[string]interface{}); ok {
		return copyRecord(rec)
	}
	return v
}

func copyRecord(rec map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
