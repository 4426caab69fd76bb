package growth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

func testScale(t *testing.T) *GradingScale {
	t.Helper()
	scale, err := NewGradingScale([]LevelDef{
		{Name: "A+", MinScore: 90, Color: "#5cb85c"},
		{Name: "A", MinScore: 80, Color: "#5bc0de"},
		{Name: "B", MinScore: 60, Color: "#f0ad4e"},
	})
	require.NoError(t, err)
	return scale
}

func TestNewGradingScale_KeepsConfiguredOrder(t *testing.T) {
	scale := testScale(t)

	levels := scale.Levels()
	require.Len(t, levels, 3)
	assert.Equal(t, "A+", levels[0].Name)
	assert.Equal(t, "A", levels[1].Name)
	assert.Equal(t, "B", levels[2].Name)
	assert.Equal(t, "A+", scale.Top().Name)
}

func TestNewGradingScale_RejectsUnorderedScale(t *testing.T) {
	tests := []struct {
		name string
		defs []LevelDef
	}{
		{"shuffled", []LevelDef{{Name: "B", MinScore: 60}, {Name: "A+", MinScore: 90}, {Name: "A", MinScore: 80}}},
		{"ascending", []LevelDef{{Name: "B", MinScore: 60}, {Name: "A", MinScore: 80}, {Name: "A+", MinScore: 90}}},
		{"tail out of order", []LevelDef{{Name: "A+", MinScore: 90}, {Name: "B", MinScore: 60}, {Name: "A", MinScore: 80}}},
		{"equal thresholds", []LevelDef{{Name: "A", MinScore: 80}, {Name: "B", MinScore: 80}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scale, err := NewGradingScale(tt.defs)
			require.Error(t, err)
			assert.Nil(t, scale)
			assert.ErrorIs(t, err, shared.ErrUnorderedGradingScale)
			assert.True(t, shared.IsConfiguration(err))
		})
	}
}

func TestNewGradingScale_Errors(t *testing.T) {
	_, err := NewGradingScale(nil)
	assert.ErrorIs(t, err, shared.ErrConfiguration)
	assert.True(t, shared.IsConfiguration(err))

	_, err = NewGradingScale([]LevelDef{{Name: "A", MinScore: 80}, {Name: "B", MinScore: 80}})
	assert.ErrorIs(t, err, shared.ErrUnorderedGradingScale)

	_, err = NewGradingScale([]LevelDef{{Name: "", MinScore: 80}})
	assert.ErrorIs(t, err, shared.ErrConfiguration)

	_, err = NewGradingScale([]LevelDef{{Name: "X", MinScore: 120}})
	assert.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestGradingScale_Classify(t *testing.T) {
	scale := testScale(t)

	tests := []struct {
		score   float64
		name    string
		ordinal int
	}{
		{100, "A+", 0},
		{90, "A+", 0},
		{89.99, "A", 1},
		{80, "A", 1},
		{60, "B", 2},
		{12, "B", 2}, // below every threshold: lowest level
	}

	for _, tt := range tests {
		l := scale.Classify(tt.score)
		assert.Equal(t, tt.name, l.Name, "score %v", tt.score)
		assert.Equal(t, tt.ordinal, l.Ordinal, "score %v", tt.score)
	}
}

func TestClassifyTransition(t *testing.T) {
	scale := testScale(t)

	t.Run("A to A+ is transformed", func(t *testing.T) {
		tr := ClassifyTransition(scale.Classify(85), scale.Classify(92))
		assert.Equal(t, 1, tr.LevelChange)
		assert.True(t, tr.IsTransformed)
		assert.False(t, tr.IsConsolidated)
		assert.Equal(t, TransitionTransformed, tr.Kind)
	})

	t.Run("top to top is consolidated", func(t *testing.T) {
		tr := ClassifyTransition(scale.Classify(95), scale.Classify(91))
		assert.True(t, tr.IsConsolidated)
		assert.False(t, tr.IsTransformed)
		assert.Equal(t, 0, tr.LevelChange)
	})

	t.Run("top to lower is declined", func(t *testing.T) {
		tr := ClassifyTransition(scale.Classify(95), scale.Classify(70))
		assert.Equal(t, -2, tr.LevelChange)
		assert.Equal(t, TransitionDeclined, tr.Kind)
		assert.False(t, tr.IsTransformed)
	})

	t.Run("same non-top level is maintained", func(t *testing.T) {
		tr := ClassifyTransition(scale.Classify(61), scale.Classify(79))
		assert.Equal(t, TransitionMaintained, tr.Kind)
		assert.Equal(t, 0, tr.LevelChange)
	})
}

func TestClassifyTransition_Implications(t *testing.T) {
	scale := testScale(t)
	scores := []float64{0, 55, 60, 75, 80, 85, 90, 99}

	for _, entry := range scores {
		for _, exit := range scores {
			el, xl := scale.Classify(entry), scale.Classify(exit)
			tr := ClassifyTransition(el, xl)
			if tr.IsConsolidated {
				assert.True(t, el.IsTop() && xl.IsTop())
			}
			if tr.IsTransformed {
				assert.Greater(t, tr.LevelChange, 0)
				assert.False(t, el.IsTop())
			}
		}
	}
}

func TestKnowledgeScale(t *testing.T) {
	ks, err := NewKnowledgeScale([]KnowledgeThreshold{
		{Level: "mastered", Threshold: 0.85},
		{Level: "partial", Threshold: 0.6},
		{Level: "weak", Threshold: 0},
	})
	require.NoError(t, err)

	assert.Equal(t, "mastered", ks.Classify(0.9))
	assert.Equal(t, "partial", ks.Classify(0.6))
	assert.Equal(t, "weak", ks.Classify(0.2))

	_, err = NewKnowledgeScale(nil)
	assert.ErrorIs(t, err, shared.ErrConfiguration)

	_, err = NewKnowledgeScale([]KnowledgeThreshold{{Level: "a", Threshold: 0.5}, {Level: "b", Threshold: 0.5}})
	assert.ErrorIs(t, err, shared.ErrUnorderedKnowledgeScale)

	_, err = NewKnowledgeScale([]KnowledgeThreshold{
		{Level: "weak", Threshold: 0},
		{Level: "mastered", Threshold: 0.85},
	})
	assert.ErrorIs(t, err, shared.ErrUnorderedKnowledgeScale)
	assert.True(t, shared.IsConfiguration(err))
}
