package growth

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

func presentScores(values ...float64) []Score {
	out := make([]Score, len(values))
	for i, v := range values {
		out[i] = Present(v)
	}
	return out
}

func TestComputeCohortStats_PopulationFormula(t *testing.T) {
	key := CohortKey{Group: "7", Subject: "math", Phase: PhaseEntry}
	st := ComputeCohortStats(key, presentScores(60, 70, 80))

	assert.Equal(t, 3, st.Count)
	assert.InDelta(t, 70.0, st.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(200.0/3.0), st.Std, 1e-12)
	assert.InDelta(t, 1.2247, st.Z(80), 1e-4)
	assert.Equal(t, 1.225, Round3(st.Z(80)))
}

func TestComputeCohortStats_ZOfMeanIsZeroAndSumIsZero(t *testing.T) {
	scores := []float64{12, 47.5, 63, 63, 88, 91, 100, 0}
	st := ComputeCohortStats(CohortKey{}, presentScores(scores...))

	assert.InDelta(t, 0.0, st.Z(st.Mean), 1e-12)

	var sum float64
	for _, s := range scores {
		sum += st.Z(s)
	}
	assert.InDelta(t, 0.0, sum, 1e-9)
}

func TestComputeCohortStats_ZeroStd(t *testing.T) {
	t.Run("single score", func(t *testing.T) {
		st := ComputeCohortStats(CohortKey{}, presentScores(73))
		assert.Equal(t, 0.0, st.Std)
		assert.Equal(t, 0.0, st.Z(73))
		assert.Equal(t, 0.0, st.Z(10))
	})

	t.Run("identical fractional scores", func(t *testing.T) {
		st := ComputeCohortStats(CohortKey{}, presentScores(0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1))
		assert.Equal(t, 0.0, st.Std)
		assert.Equal(t, 0.0, st.Z(0.1))
	})
}

func TestComputeCohortStats_AbsentExcludedButCounted(t *testing.T) {
	scores := []Score{Present(50), Absent(), Present(70), Missing(), Absent()}
	st := ComputeCohortStats(CohortKey{}, scores)

	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 2, st.AbsentCount)
	assert.Equal(t, 1, st.MissingCount)
	assert.InDelta(t, 60.0, st.Mean, 1e-12)
	assert.InDelta(t, 10.0, st.Std, 1e-12)
}

func TestComputeCohortStats_AllAbsent(t *testing.T) {
	st := ComputeCohortStats(CohortKey{}, []Score{Absent(), Absent()})

	assert.True(t, st.Empty())
	assert.Equal(t, 0.0, st.Z(50))
	assert.False(t, math.IsNaN(st.Mean))
}

func TestNormalize_GroupsByScope(t *testing.T) {
	records := []ScoreRecord{
		{StudentID: "s1", ClassName: "7A", Grade: "7", Subject: "math", EntryScore: Present(60), ExitScore: Present(70)},
		{StudentID: "s2", ClassName: "7B", Grade: "7", Subject: "math", EntryScore: Present(80), ExitScore: Present(90)},
	}

	byGrade := Normalize(records, CohortByGrade)
	assert.Len(t, byGrade, 2)
	assert.Equal(t, 2, byGrade[CohortKey{Group: "7", Subject: "math", Phase: PhaseEntry}].Count)

	byClass := Normalize(records, CohortByClass)
	assert.Len(t, byClass, 4)
	assert.Equal(t, 1, byClass[CohortKey{Group: "7A", Subject: "math", Phase: PhaseExit}].Count)
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		raw   string
		state ScoreState
		value float64
	}{
		{"85", ScorePresent, 85},
		{" 92.5 ", ScorePresent, 92.5},
		{"0", ScorePresent, 0},
		{"Q", ScoreAbsent, 0},
		{"n", ScoreAbsent, 0},
		{"缺考", ScoreAbsent, 0},
		{"absent", ScoreAbsent, 0},
		{"", ScoreMissing, 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			s, err := ParseScore(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.state, s.State())
			v, _ := s.Value()
			assert.Equal(t, tt.value, v)
		})
	}
}

func TestParseScore_Errors(t *testing.T) {
	_, err := ParseScore("101")
	assert.True(t, shared.IsValidation(err))
	assert.ErrorIs(t, err, shared.ErrScoreOutOfRange)

	_, err = ParseScore("-1")
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	_, err = ParseScore("eighty")
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}

func TestScore_JSON(t *testing.T) {
	var rec ScoreRecord
	err := json.Unmarshal([]byte(`{
		"student_id": "s1", "class_name": "7A", "subject": "math",
		"entry_score": "Q", "exit_score": 88
	}`), &rec)
	require.NoError(t, err)

	assert.True(t, rec.EntryScore.IsAbsent())
	assert.True(t, rec.ExitScore.IsPresent())
	assert.False(t, rec.Paired())

	var missing ScoreRecord
	require.NoError(t, json.Unmarshal([]byte(`{"entry_score": null}`), &missing))
	assert.True(t, missing.EntryScore.IsMissing())
	assert.True(t, missing.ExitScore.IsMissing())

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"entry_score":"absent"`)
	assert.Contains(t, string(out), `"exit_score":88`)
}
