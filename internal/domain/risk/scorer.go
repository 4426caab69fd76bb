package risk

import (
	"fmt"
	"math"
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// RISK TIER
// ══════════════════════════════════════════════════════════════════════════════

// Tier - уровень риска.
type Tier string

const (
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// TierFor переводит показатель 0-100 в уровень риска.
func TierFor(score float64) Tier {
	switch {
	case score >= 80:
		return TierCritical
	case score >= 60:
		return TierHigh
	case score >= 30:
		return TierMedium
	default:
		return TierLow
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORER
// ══════════════════════════════════════════════════════════════════════════════

// topCategories - сколько категорий попадает в concerns и improvement areas.
const topCategories = 3

// confidenceHalfPoint - при таком числе событий уверенность равна 0.5.
const confidenceHalfPoint = 10.0

// Assessment - результат подсчёта риска по набору событий.
type Assessment struct {
	RiskScore  float64 `json:"risk_score"`
	RawScore   float64 `json:"raw_score"`
	Tier       Tier    `json:"risk_tier"`
	Confidence float64 `json:"confidence"`
	EventCount int     `json:"event_count"`
}

// Score считает взвешенную сумму и нормирует её на теоретический максимум
// (все события критические): min(100, 100*raw/(N*10)). Пустой набор даёт 0.
func Score(events []WarningEvent) Assessment {
	a := Assessment{Tier: TierLow, EventCount: len(events)}
	if len(events) == 0 {
		return a
	}

	var raw int
	for _, e := range events {
		raw += e.Severity.Weight()
	}

	a.RawScore = float64(raw)
	a.RiskScore = math.Min(100, 100*a.RawScore/float64(len(events)*MaxWeight))
	a.Tier = TierFor(a.RiskScore)
	a.Confidence = Confidence(len(events))
	return a
}

// Confidence зависит только от числа событий: n/(n+10).
// Это метаданные, в risk_score не входит.
func Confidence(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / (float64(n) + confidenceHalfPoint)
}

// PrimaryConcerns возвращает до трёх самых частых категорий в виде формулировок.
// При равной частоте категории идут по алфавиту.
func PrimaryConcerns(events []WarningEvent) []string {
	stats := countCategories(events)
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Total > stats[j].Total
	})

	out := []string{}
	for i := 0; i < len(stats) && i < topCategories; i++ {
		out = append(out, concernStatement(stats[i], len(events)))
	}
	return out
}

func concernStatement(c categoryStat, total int) string {
	share := 100 * float64(c.Total) / float64(total)
	return fmt.Sprintf("%s: %d of %d warnings (%.0f%%)", c.Category, c.Total, total, share)
}

// ImprovementAreas возвращает до трёх категорий, упорядоченных по числу
// high/critical событий, затем по общему числу, затем по имени.
func ImprovementAreas(events []WarningEvent) []string {
	stats := countCategories(events)
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].Severe != stats[j].Severe {
			return stats[i].Severe > stats[j].Severe
		}
		return stats[i].Total > stats[j].Total
	})

	out := []string{}
	for i := 0; i < len(stats) && i < topCategories; i++ {
		out = append(out, stats[i].Category)
	}
	return out
}
