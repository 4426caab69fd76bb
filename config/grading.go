package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/growth-hub/internal/domain/growth"
)

// Grading is the grading configuration file:
//
//	levels:
//	  - {name: excellent, min_score: 85, color: "#2e7d32"}
//	  - {name: good, min_score: 70}
//	  - {name: pass, min_score: 60}
//	  - {name: fail, min_score: 0}
//	knowledge_thresholds:
//	  - {level: mastered, threshold: 0.8}
//	  - {level: partial, threshold: 0.5}
//	  - {level: weak, threshold: 0}
//	balance:
//	  rate_weight: 1
//	  deviation_weight: 1
//	  strength_threshold: 0.05
type Grading struct {
	Levels              []growth.LevelDef           `yaml:"levels"`
	KnowledgeThresholds []growth.KnowledgeThreshold `yaml:"knowledge_thresholds"`

	// Balance overrides the ANALYTICS_BALANCE_* settings when present.
	Balance *growth.BalancePolicy `yaml:"balance"`
}

// DefaultGrading returns the four-level scale used when no file is configured.
func DefaultGrading() *Grading {
	return &Grading{
		Levels: []growth.LevelDef{
			{Name: "excellent", MinScore: 85},
			{Name: "good", MinScore: 70},
			{Name: "pass", MinScore: 60},
			{Name: "fail", MinScore: 0},
		},
		KnowledgeThresholds: []growth.KnowledgeThreshold{
			{Level: "mastered", Threshold: 0.8},
			{Level: "partial", Threshold: 0.5},
			{Level: "weak", Threshold: 0},
		},
	}
}

// LoadGrading reads path. An empty path yields DefaultGrading.
func LoadGrading(path string) (*Grading, error) {
	if path == "" {
		return DefaultGrading(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	g, err := ParseGrading(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// ParseGrading decodes and validates a grading document. Unknown keys are rejected.
func ParseGrading(data []byte) (*Grading, error) {
	var g Grading
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("unmarshal grading: %w", err)
	}
	if _, err := g.Scale(); err != nil {
		return nil, err
	}
	if len(g.KnowledgeThresholds) > 0 {
		if _, err := g.Knowledge(); err != nil {
			return nil, err
		}
	}
	if g.Balance != nil {
		if err := g.Balance.Validate(); err != nil {
			return nil, err
		}
	}
	return &g, nil
}

// Scale builds the grading scale.
func (g *Grading) Scale() (*growth.GradingScale, error) {
	return growth.NewGradingScale(g.Levels)
}

// Knowledge builds the knowledge-point scale.
func (g *Grading) Knowledge() (*growth.KnowledgeScale, error) {
	return growth.NewKnowledgeScale(g.KnowledgeThresholds)
}

// BalancePolicy returns the file override or the policy from cfg.
func (g *Grading) BalancePolicy(cfg AnalyticsConfig) growth.BalancePolicy {
	if g.Balance != nil {
		return *g.Balance
	}
	return growth.BalancePolicy{
		RateWeight:        cfg.BalanceRateWeight,
		DeviationWeight:   cfg.BalanceDeviationWeight,
		StrengthThreshold: cfg.StrengthThreshold,
	}
}

// NewAnalyzer builds the growth analyzer from the grading file and analytics settings.
func NewAnalyzer(cfg AnalyticsConfig, g *Grading) (*growth.Analyzer, error) {
	scale, err := g.Scale()
	if err != nil {
		return nil, err
	}

	scope := growth.CohortByGrade
	if cfg.CohortScope == string(growth.CohortByClass) {
		scope = growth.CohortByClass
	}

	return growth.NewAnalyzer(scale,
		growth.WithBalancePolicy(g.BalancePolicy(cfg)),
		growth.WithCohortScope(scope),
		growth.WithPassMark(cfg.PassMark),
	)
}
