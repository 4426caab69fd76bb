package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

const gradingYAML = `
levels:
  - {name: excellent, min_score: 85}
  - {name: pass, min_score: 60, color: "#2e7d32"}
  - {name: fail, min_score: 0}
knowledge_thresholds:
  - {level: mastered, threshold: 0.8}
  - {level: weak, threshold: 0}
balance:
  rate_weight: 2
  deviation_weight: 0.5
  strength_threshold: 0.1
`

func TestParseGrading(t *testing.T) {
	g, err := ParseGrading([]byte(gradingYAML))
	require.NoError(t, err)

	scale, err := g.Scale()
	require.NoError(t, err)
	assert.Equal(t, "excellent", scale.Top().Name)
	assert.Equal(t, "pass", scale.Classify(72).Name)

	ks, err := g.Knowledge()
	require.NoError(t, err)
	assert.Equal(t, "mastered", ks.Classify(0.9))
	assert.Equal(t, "weak", ks.Classify(0.3))

	policy := g.BalancePolicy(AnalyticsConfig{BalanceRateWeight: 1, BalanceDeviationWeight: 1})
	assert.Equal(t, 2.0, policy.RateWeight)
	assert.Equal(t, 0.1, policy.StrengthThreshold)
}

func TestParseGrading_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty document", ""},
		{"unknown key", "levels: [{name: a, min_score: 0}]\nbands: []\n"},
		{"no levels", "knowledge_thresholds: [{level: a, threshold: 0.5}]\n"},
		{"duplicate min score", "levels: [{name: a, min_score: 50}, {name: b, min_score: 50}]\n"},
		{"ascending levels", "levels: [{name: fail, min_score: 0}, {name: pass, min_score: 60}]\n"},
		{"ascending thresholds", "levels: [{name: a, min_score: 0}]\nknowledge_thresholds: [{level: weak, threshold: 0}, {level: mastered, threshold: 0.8}]\n"},
		{"threshold outside range", "levels: [{name: a, min_score: 0}]\nknowledge_thresholds: [{level: x, threshold: 1.5}]\n"},
		{"non-positive weight", "levels: [{name: a, min_score: 0}]\nbalance: {rate_weight: 0, deviation_weight: 1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGrading([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseGrading_ConfigurationKind(t *testing.T) {
	_, err := ParseGrading([]byte("levels: [{name: a, min_score: 50}, {name: b, min_score: 50}]\n"))
	require.Error(t, err)
	assert.True(t, shared.IsConfiguration(err))
}

func TestLoadGrading(t *testing.T) {
	g, err := LoadGrading("")
	require.NoError(t, err)
	assert.Len(t, g.Levels, 4)

	path := filepath.Join(t.TempDir(), "grading.yaml")
	require.NoError(t, os.WriteFile(path, []byte(gradingYAML), 0o600))
	g, err = LoadGrading(path)
	require.NoError(t, err)
	assert.Len(t, g.Levels, 3)

	_, err = LoadGrading(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNewAnalyzer(t *testing.T) {
	cfg := AnalyticsConfig{
		CohortScope:            "class",
		PassMark:               50,
		BalanceRateWeight:      1,
		BalanceDeviationWeight: 1,
		StrengthThreshold:      0.05,
	}
	a, err := NewAnalyzer(cfg, DefaultGrading())
	require.NoError(t, err)
	assert.NotNil(t, a)

	cfg.BalanceRateWeight = -1
	_, err = NewAnalyzer(cfg, DefaultGrading())
	assert.True(t, shared.IsConfiguration(err))
}
