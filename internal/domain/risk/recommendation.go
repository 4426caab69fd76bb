package risk

import (
	"fmt"
	"strings"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMMENDATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ActionKind - срочность рекомендации.
type ActionKind string

const (
	ActionImmediate ActionKind = "immediate"
	ActionStrategic ActionKind = "strategic"
)

// Priority - приоритет рекомендации.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Recommendation - одна рекомендация, созданная правилом.
type Recommendation struct {
	RuleID      string     `json:"rule_id"`
	Kind        ActionKind `json:"kind"`
	Priority    Priority   `json:"priority"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Timeframe   string     `json:"timeframe,omitempty"`
	Resources   []string   `json:"resources,omitempty"`
}

// Recommendations - полный набор рекомендаций, разделённый по срочности.
type Recommendations struct {
	Immediate []Recommendation `json:"immediate"`
	Strategic []Recommendation `json:"strategic"`
}

// Facts - входные данные для правил.
type Facts struct {
	Scope            shared.Scope
	RiskScore        float64
	Tier             Tier
	PrimaryConcerns  []string
	ImprovementAreas []string

	// Exam заполняется только для scope == exam.
	Exam *ExamMetrics
}

// Rule - правило вида {условие, действие}. Правила независимы друг от друга
// и не изменяют общего состояния.
type Rule struct {
	ID        string
	Kind      ActionKind
	Condition func(Facts) bool
	Build     func(Facts) Recommendation
}

// Правила по умолчанию.
const (
	RuleUrgentIntervention = "urgent_intervention"
	RuleStrategicPlan      = "strategic_improvement_plan"
	RuleRemedialTeaching   = "remedial_teaching"
	RuleMethodReview       = "teaching_method_review"
)

// examPassRateFloor и examAvgScoreFloor - пороги правил уровня exam.
const (
	examPassRateFloor = 0.6
	examAvgScoreFloor = 70.0
)

// DefaultRules возвращает таблицу правил в порядке вычисления.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:   RuleUrgentIntervention,
			Kind: ActionImmediate,
			Condition: func(f Facts) bool {
				return f.RiskScore > 70
			},
			Build: func(f Facts) Recommendation {
				return Recommendation{
					Title:       "Urgent intervention",
					Description: fmt.Sprintf("Risk score %.1f is %s: meet the homeroom teacher and address %s", f.RiskScore, f.Tier, firstOr(f.PrimaryConcerns, "the leading warnings")),
					Priority:    PriorityHigh,
					Timeframe:   "1-3 days",
				}
			},
		},
		{
			ID:   RuleStrategicPlan,
			Kind: ActionStrategic,
			Condition: func(f Facts) bool {
				return f.RiskScore > 40
			},
			Build: func(f Facts) Recommendation {
				return Recommendation{
					Title:       "Improvement plan",
					Description: fmt.Sprintf("Build a term plan for %s", joinOr(f.ImprovementAreas, "the flagged areas")),
					Priority:    PriorityMedium,
					Timeframe:   "1-2 months",
					Resources:   []string{"subject teacher time", "counselor sessions", "progress tracking sheet"},
				}
			},
		},
		{
			ID:   RuleRemedialTeaching,
			Kind: ActionImmediate,
			Condition: func(f Facts) bool {
				return f.Scope == shared.ScopeExam && f.Exam != nil && f.Exam.Count > 0 && f.Exam.PassRate < examPassRateFloor
			},
			Build: func(f Facts) Recommendation {
				return Recommendation{
					Title:       "Remedial teaching",
					Description: fmt.Sprintf("Pass rate %.0f%% is below %.0f%%: schedule remedial sessions for students under the pass mark", 100*f.Exam.PassRate, 100*examPassRateFloor),
					Priority:    PriorityHigh,
					Timeframe:   "1 week",
				}
			},
		},
		{
			ID:   RuleMethodReview,
			Kind: ActionStrategic,
			Condition: func(f Facts) bool {
				return f.Scope == shared.ScopeExam && f.Exam != nil && f.Exam.Count > 0 && f.Exam.Mean < examAvgScoreFloor
			},
			Build: func(f Facts) Recommendation {
				return Recommendation{
					Title:       "Teaching method review",
					Description: fmt.Sprintf("Average score %.1f is below %.0f: review teaching methods and materials", f.Exam.Mean, examAvgScoreFloor),
					Priority:    PriorityMedium,
					Timeframe:   "next term",
					Resources:   []string{"methodology group", "lesson observation"},
				}
			},
		},
	}
}

// RecommendationGenerator вычисляет таблицу правил.
type RecommendationGenerator struct {
	rules []Rule
}

// NewRecommendationGenerator создаёт генератор. Без правил берутся DefaultRules.
func NewRecommendationGenerator(rules ...Rule) *RecommendationGenerator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &RecommendationGenerator{rules: rules}
}

// Generate вычисляет все правила по порядку и возвращает полный набор.
func (g *RecommendationGenerator) Generate(f Facts) Recommendations {
	out := Recommendations{
		Immediate: []Recommendation{},
		Strategic: []Recommendation{},
	}
	for _, r := range g.rules {
		if !r.Condition(f) {
			continue
		}
		rec := r.Build(f)
		rec.RuleID = r.ID
		rec.Kind = r.Kind
		if r.Kind == ActionImmediate {
			out.Immediate = append(out.Immediate, rec)
		} else {
			out.Strategic = append(out.Strategic, rec)
		}
	}
	return out
}

func firstOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return items[0]
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, ", ")
}
