package progress

import (
	"testing"

	"advisory-portal/internal/questionnaire/answers"
	"advisory-portal/internal/questionnaire/steps"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepBased(t *testing.T) {
	tests := []struct {
		ordinal int
		total   int
		want    int
	}{
		{1, 15, 7},
		{8, 15, 53},
		{15, 15, 100},
		{1, 1, 100},
		{3, 0, 0},
	}

	for _, tt := range tests {
		p := StepBased(steps.Position{Ordinal: tt.ordinal}, tt.total, false)
		assert.Equal(t, tt.want, p.Percent, "ordinal %d of %d", tt.ordinal, tt.total)
		assert.Equal(t, ModeStep, p.Mode)
	}
}

func TestStepBased_GoalIndexDoesNotMatter(t *testing.T) {
	a := StepBased(steps.Position{Ordinal: 9, GoalIndex: 0}, 15, false)
	b := StepBased(steps.Position{Ordinal: 9, GoalIndex: 3}, 15, false)
	assert.Equal(t, a, b)
}

func TestCoverageBased(t *testing.T) {
	keys := []string{"a", "b"}
	w := DefaultWeights() // total = 2 + 3 + 2 + 4 = 11

	t.Run("empty aggregate", func(t *testing.T) {
		agg := answers.New(answers.DefaultCatalog)
		p := CoverageBased(agg.State(), keys, w, false)
		assert.Equal(t, 0, p.Percent)
		assert.Equal(t, ModeCoverage, p.Mode)
		assert.False(t, p.Complete)
	})

	t.Run("answers only", func(t *testing.T) {
		agg := answers.New(answers.DefaultCatalog)
		require.NoError(t, agg.UpdateAnswer("a", "x"))
		require.NoError(t, agg.UpdateAnswer("b", ""))
		require.NoError(t, agg.UpdateAnswer("unexpected", "y"))
		p := CoverageBased(agg.State(), keys, w, false)
		assert.Equal(t, 9, p.Percent) // 1/11
	})

	t.Run("goal detail completeness is partial credit", func(t *testing.T) {
		agg := answers.New(answers.DefaultCatalog[:2])
		require.NoError(t, agg.SetGoalInterest("retirement", answers.InterestStronglyInterested))
		require.NoError(t, agg.UpdateGoalDetail("retirement", answers.FieldTimeline, "10+ years"))
		require.NoError(t, agg.UpdateGoalDetail("retirement", answers.FieldRiskAppetite, "moderate"))
		// 3 selection + 4 * 2/4 details = 5 of 11
		p := CoverageBased(agg.State(), keys, w, false)
		assert.Equal(t, 45, p.Percent)
	})

	t.Run("nothing qualified after selection", func(t *testing.T) {
		agg := answers.New(answers.DefaultCatalog[:2])
		require.NoError(t, agg.SetGoalInterest("retirement", answers.InterestLessLikely))
		p := CoverageBased(agg.State(), keys, w, false)
		assert.Equal(t, 82, p.Percent) // 9/11
	})

	t.Run("everything answered", func(t *testing.T) {
		agg := answers.New(answers.DefaultCatalog[:1])
		require.NoError(t, agg.UpdateAnswer("a", 3))
		require.NoError(t, agg.UpdateAnswer("b", true))
		require.NoError(t, agg.SetGoalInterest("retirement", answers.InterestAlreadyPlanned))
		require.NoError(t, agg.UpdateNestedAnswer(answers.KeyGoalPriorities, "retirement", "high"))
		for _, f := range answers.GoalDetailFields {
			require.NoError(t, agg.UpdateGoalDetail("retirement", f, "x"))
		}
		p := CoverageBased(agg.State(), keys, w, true)
		assert.Equal(t, 100, p.Percent)
		assert.True(t, p.Complete)
	})

	t.Run("zero weights", func(t *testing.T) {
		p := CoverageBased(answers.State{}, nil, Weights{}, false)
		assert.Equal(t, 0, p.Percent)
	})
}
