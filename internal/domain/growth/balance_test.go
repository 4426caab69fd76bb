package growth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeBalance_StrengthsAndWeaknesses(t *testing.T) {
	subjects := []SubjectBalanceEntry{
		{Subject: "math", ValueAddedRate: 0.10},
		{Subject: "eng", ValueAddedRate: -0.05},
		{Subject: "sci", ValueAddedRate: 0.00},
	}

	a := AnalyzeBalance("7A", subjects, DefaultBalancePolicy())

	assert.InDelta(t, 0.0167, a.TotalScoreValueAddedRate, 1e-4)
	assert.InDelta(t, 0.0624, a.SubjectDeviation, 1e-4)
	assert.Equal(t, []string{"math"}, a.Strengths)
	assert.Equal(t, []string{"eng"}, a.Weaknesses)

	require.Len(t, a.Subjects, 3)
	assert.Equal(t, "math", a.Subjects[0].Subject)
	assert.Equal(t, 1, a.Subjects[0].Rank)
	assert.InDelta(t, 0.0833, a.Subjects[0].DeviationFromAvg, 1e-4)
	assert.Equal(t, "eng", a.Subjects[2].Subject)
	assert.InDelta(t, -0.0667, a.Subjects[2].DeviationFromAvg, 1e-4)
}

func TestAnalyzeBalance_ThresholdIsTunable(t *testing.T) {
	subjects := []SubjectBalanceEntry{
		{Subject: "math", ValueAddedRate: 0.10},
		{Subject: "eng", ValueAddedRate: -0.05},
		{Subject: "sci", ValueAddedRate: 0.00},
	}

	policy := DefaultBalancePolicy()
	policy.StrengthThreshold = 0.1
	a := AnalyzeBalance("7A", subjects, policy)

	assert.Empty(t, a.Strengths)
	assert.Empty(t, a.Weaknesses)
}

func TestBalancePolicy_Monotone(t *testing.T) {
	p := DefaultBalancePolicy()

	assert.Greater(t, p.Score(0.2, 0.1), p.Score(0.1, 0.1))
	assert.Less(t, p.Score(0.1, 0.3), p.Score(0.1, 0.1))
	assert.NoError(t, p.Validate())
}

func TestRankBalances_DenseRankWithTieBreak(t *testing.T) {
	ranked := RankBalances([]SubjectBalanceAnalysis{
		{ClassName: "7C", BalanceScore: 1.0, TotalScoreValueAddedRate: 0.0},
		{ClassName: "7A", BalanceScore: 1.2, TotalScoreValueAddedRate: 0.1},
		{ClassName: "7D", BalanceScore: 1.0, TotalScoreValueAddedRate: 0.2},
		{ClassName: "7B", BalanceScore: 1.0, TotalScoreValueAddedRate: 0.0},
	})

	names := make([]string, len(ranked))
	ranks := make([]int, len(ranked))
	for i, r := range ranked {
		names[i] = r.ClassName
		ranks[i] = r.TotalRank
	}

	assert.Equal(t, []string{"7A", "7D", "7B", "7C"}, names)
	assert.Equal(t, []int{1, 2, 3, 3}, ranks)
}

func TestBalanceEntries_SharedRank(t *testing.T) {
	entries := BalanceEntries([]SubjectBalanceEntry{
		{Subject: "sci", ValueAddedRate: 0.2},
		{Subject: "art", ValueAddedRate: 0.2},
		{Subject: "pe", ValueAddedRate: -0.1},
	})

	assert.Equal(t, "art", entries[0].Subject)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 1, entries[1].Rank)
	assert.Equal(t, 3, entries[2].Rank)
}
