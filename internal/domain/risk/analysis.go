package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RISK ANALYSIS
// ══════════════════════════════════════════════════════════════════════════════

// RiskAnalysis - результат анализа рисков для одного ключа.
// Не имеет идентичности кроме Key и пересчитывается по запросу.
type RiskAnalysis struct {
	Key              shared.AnalysisKey `json:"key"`
	RiskScore        float64            `json:"risk_score"`
	RiskTier         Tier               `json:"risk_tier"`
	RawScore         float64            `json:"raw_score"`
	Confidence       float64            `json:"confidence"`
	EventCount       int                `json:"event_count"`
	PrimaryConcerns  []string           `json:"primary_concerns"`
	ImprovementAreas []string           `json:"improvement_areas"`
	TrendDirection   Trend              `json:"trend_direction"`
	Anomalies        []Anomaly          `json:"anomalies"`
	Correlations     []Correlation      `json:"correlations"`
	Recommendations  Recommendations    `json:"recommendations"`
}

// Verify проверяет, что метрики конечны и risk_score лежит в [0,100].
func (r *RiskAnalysis) Verify() error {
	for name, v := range map[string]float64{
		"risk_score": r.RiskScore,
		"raw_score":  r.RawScore,
		"confidence": r.Confidence,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return shared.WrapError("risk", "Verify", shared.ErrComputation,
				fmt.Sprintf("%s is %v for %s", name, v, r.Key), shared.ErrNonFiniteMetric)
		}
	}
	if r.RiskScore < 0 || r.RiskScore > 100 {
		return shared.NewDomainError("risk", "Verify", shared.ErrComputation,
			fmt.Sprintf("risk_score %v outside [0,100] for %s", r.RiskScore, r.Key))
	}
	return nil
}

// Input - данные для одного анализа рисков.
type Input struct {
	Key    shared.AnalysisKey
	Events []WarningEvent

	// AsOf - момент, от которого отсчитывается окно тренда.
	// Нулевое значение: конец периода ключа, иначе время последнего события.
	AsOf time.Time

	// Exam - сводка экзамена для scope == exam.
	Exam *ExamMetrics
}

// Analyzer - чистая точка входа анализа рисков.
type Analyzer struct {
	patterns *PatternAnalyzer
	recs     *RecommendationGenerator
}

// NewAnalyzer создаёт анализатор с заданными порогами и правилами.
func NewAnalyzer(cfg PatternConfig, rules ...Rule) *Analyzer {
	return &Analyzer{
		patterns: NewPatternAnalyzer(cfg),
		recs:     NewRecommendationGenerator(rules...),
	}
}

// Analyze считает риск, закономерности и рекомендации.
// События вне периода ключа отбрасываются; результат не зависит от порядка событий.
func (a *Analyzer) Analyze(in Input) (*RiskAnalysis, error) {
	events := make([]WarningEvent, 0, len(in.Events))
	for _, e := range sortEvents(in.Events) {
		if in.Key.TimeRange.Contains(e.CreatedAt) {
			events = append(events, e)
		}
	}

	score := Score(events)
	concerns := PrimaryConcerns(events)
	areas := ImprovementAreas(events)

	anomalies := a.patterns.Anomalies(events)
	if in.Key.Scope == shared.ScopeExam && in.Exam != nil {
		anomalies = append(anomalies, a.patterns.ScoreAnomalies(*in.Exam)...)
	}

	result := &RiskAnalysis{
		Key:              in.Key,
		RiskScore:        score.RiskScore,
		RiskTier:         score.Tier,
		RawScore:         score.RawScore,
		Confidence:       score.Confidence,
		EventCount:       score.EventCount,
		PrimaryConcerns:  concerns,
		ImprovementAreas: areas,
		TrendDirection:   a.patterns.Trend(events, asOf(in, events)),
		Anomalies:        anomalies,
		Correlations:     a.patterns.Correlations(events),
	}

	var exam *ExamMetrics
	if in.Key.Scope == shared.ScopeExam {
		exam = in.Exam
	}
	result.Recommendations = a.recs.Generate(Facts{
		Scope:            in.Key.Scope,
		RiskScore:        score.RiskScore,
		Tier:             score.Tier,
		PrimaryConcerns:  concerns,
		ImprovementAreas: areas,
		Exam:             exam,
	})

	if err := result.Verify(); err != nil {
		return nil, err
	}
	return result, nil
}

// asOf выбирает опорный момент тренда без обращения к часам.
func asOf(in Input, sorted []WarningEvent) time.Time {
	if !in.AsOf.IsZero() {
		return in.AsOf
	}
	if !in.Key.TimeRange.To.IsZero() {
		return in.Key.TimeRange.To
	}
	if len(sorted) > 0 {
		return sorted[len(sorted)-1].CreatedAt
	}
	return time.Time{}
}
