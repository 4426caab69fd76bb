package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ══════════════════════════════════════════════════════════════════════════════
// TREND
// ══════════════════════════════════════════════════════════════════════════════

// Trend - направление изменения риска.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANOMALIES & CORRELATIONS
// ══════════════════════════════════════════════════════════════════════════════

// AnomalyType - вид аномалии.
type AnomalyType string

const (
	// AnomalySeveritySpike - в категории слишком много серьёзных событий.
	AnomalySeveritySpike AnomalyType = "severity_spike"
	// AnomalyLowScoreCluster - на экзамене слишком много очень низких оценок.
	AnomalyLowScoreCluster AnomalyType = "low_score_cluster"
)

// Anomaly - обнаруженная аномалия.
type Anomaly struct {
	Type          AnomalyType `json:"type"`
	Category      string      `json:"category,omitempty"`
	Description   string      `json:"description"`
	Severity      Severity    `json:"severity"`
	AffectedCount int         `json:"affected_count"`
}

// Correlation - пара категорий, которые встречаются у одних и тех же объектов.
type Correlation struct {
	CategoryA string  `json:"category_a"`
	CategoryB string  `json:"category_b"`
	Support   int     `json:"support"`  // число объектов с обеими категориями
	Strength  float64 `json:"strength"` // support / min(объектов с A, объектов с B)
}

// ExamMetrics - сводка экзамена для правил уровня exam.
type ExamMetrics struct {
	Count    int       `json:"count"`
	Mean     float64   `json:"mean"`
	Std      float64   `json:"std"`
	PassRate float64   `json:"pass_rate"`
	Scores   []float64 `json:"-"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PATTERN ANALYZER
// ══════════════════════════════════════════════════════════════════════════════

// PatternConfig - пороги поиска закономерностей.
type PatternConfig struct {
	// RecentWindow - окно "недавних" событий для тренда.
	RecentWindow time.Duration

	// DecliningAbove - доля недавних событий, выше которой тренд ухудшается.
	DecliningAbove float64

	// ImprovingBelow - доля недавних событий, ниже которой тренд улучшается.
	ImprovingBelow float64

	// SevereCountThreshold - больше стольких high/critical событий в категории = аномалия.
	SevereCountThreshold int

	// LowScoreSigma - оценка ниже mean - sigma*std считается очень низкой.
	LowScoreSigma float64

	// LowScoreShare - доля очень низких оценок, выше которой это аномалия.
	LowScoreShare float64

	// MinCorrelationSupport - минимальное число общих объектов для корреляции.
	MinCorrelationSupport int
}

// DefaultPatternConfig возвращает пороги по умолчанию.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		RecentWindow:          7 * 24 * time.Hour,
		DecliningAbove:        0.6,
		ImprovingBelow:        0.3,
		SevereCountThreshold:  5,
		LowScoreSigma:         2,
		LowScoreShare:         0.1,
		MinCorrelationSupport: 3,
	}
}

// PatternAnalyzer ищет тренд, аномалии и корреляции в событиях.
type PatternAnalyzer struct {
	cfg PatternConfig
}

// NewPatternAnalyzer создаёт анализатор закономерностей.
func NewPatternAnalyzer(cfg PatternConfig) *PatternAnalyzer {
	return &PatternAnalyzer{cfg: cfg}
}

// Trend сравнивает долю событий за последние RecentWindow до asOf со всем периодом.
// Это эвристика, а не регрессия: > DecliningAbove - ухудшение,
// < ImprovingBelow - улучшение, иначе стабильно. Пустой набор стабилен.
func (p *PatternAnalyzer) Trend(events []WarningEvent, asOf time.Time) Trend {
	if len(events) == 0 {
		return TrendStable
	}

	since := asOf.Add(-p.cfg.RecentWindow)
	var recent int
	for _, e := range events {
		if !e.CreatedAt.Before(since) {
			recent++
		}
	}

	fraction := float64(recent) / float64(len(events))
	switch {
	case fraction > p.cfg.DecliningAbove:
		return TrendDeclining
	case fraction < p.cfg.ImprovingBelow:
		return TrendImproving
	default:
		return TrendStable
	}
}

// Anomalies отмечает категории, где high/critical событий больше порога.
func (p *PatternAnalyzer) Anomalies(events []WarningEvent) []Anomaly {
	out := []Anomaly{}
	for _, c := range countCategories(events) {
		if c.Severe <= p.cfg.SevereCountThreshold {
			continue
		}
		severity := SeverityHigh
		if c.Critical > 0 {
			severity = SeverityCritical
		}
		out = append(out, Anomaly{
			Type:          AnomalySeveritySpike,
			Category:      c.Category,
			Description:   fmt.Sprintf("%d high or critical warnings in %q exceed the threshold of %d", c.Severe, c.Category, p.cfg.SevereCountThreshold),
			Severity:      severity,
			AffectedCount: c.Severe,
		})
	}
	return out
}

// ScoreAnomalies ищет кластер оценок ниже mean - sigma*std.
// Аномалия фиксируется, если таких оценок больше LowScoreShare от когорты.
func (p *PatternAnalyzer) ScoreAnomalies(exam ExamMetrics) []Anomaly {
	out := []Anomaly{}
	if len(exam.Scores) == 0 {
		return out
	}

	mean, variance := stat.PopMeanVariance(exam.Scores, nil)
	if variance <= 0 {
		return out
	}
	std := math.Sqrt(variance)
	cutoff := mean - p.cfg.LowScoreSigma*std

	var low int
	for _, s := range exam.Scores {
		if s < cutoff {
			low++
		}
	}

	share := float64(low) / float64(len(exam.Scores))
	if share <= p.cfg.LowScoreShare {
		return out
	}
	return append(out, Anomaly{
		Type:          AnomalyLowScoreCluster,
		Description:   fmt.Sprintf("%d of %d scores fall below %.1f (mean - %.0f std)", low, len(exam.Scores), cutoff, p.cfg.LowScoreSigma),
		Severity:      SeverityHigh,
		AffectedCount: low,
	})
}

// Correlations находит пары категорий, которые встречаются у одних и тех же
// scope_ref не реже MinCorrelationSupport раз. Пары упорядочены по силе,
// затем по поддержке, затем по именам.
func (p *PatternAnalyzer) Correlations(events []WarningEvent) []Correlation {
	byRef := make(map[string]map[string]struct{})
	for _, e := range events {
		if e.ScopeRef == "" {
			continue
		}
		cats, ok := byRef[e.ScopeRef]
		if !ok {
			cats = make(map[string]struct{})
			byRef[e.ScopeRef] = cats
		}
		cats[e.Category] = struct{}{}
	}

	refsPerCategory := make(map[string]int)
	pairs := make(map[[2]string]int)
	for _, cats := range byRef {
		names := make([]string, 0, len(cats))
		for c := range cats {
			names = append(names, c)
			refsPerCategory[c]++
		}
		sort.Strings(names)
		for i := 0; i < len(names); i++ {
			for j := i + 1; j < len(names); j++ {
				pairs[[2]string{names[i], names[j]}]++
			}
		}
	}

	out := []Correlation{}
	for pair, support := range pairs {
		if support < p.cfg.MinCorrelationSupport {
			continue
		}
		base := refsPerCategory[pair[0]]
		if other := refsPerCategory[pair[1]]; other < base {
			base = other
		}
		out = append(out, Correlation{
			CategoryA: pair[0],
			CategoryB: pair[1],
			Support:   support,
			Strength:  float64(support) / float64(base),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		if out[i].Support != out[j].Support {
			return out[i].Support > out[j].Support
		}
		if out[i].CategoryA != out[j].CategoryA {
			return out[i].CategoryA < out[j].CategoryA
		}
		return out[i].CategoryB < out[j].CategoryB
	})
	return out
}
