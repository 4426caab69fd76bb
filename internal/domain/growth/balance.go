package growth

import (
	"fmt"
	"sort"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBJECT BALANCE
// ══════════════════════════════════════════════════════════════════════════════

// SubjectBalanceEntry - прирост класса по одному предмету.
type SubjectBalanceEntry struct {
	Subject            string  `json:"subject"`
	ValueAddedRate     float64 `json:"value_added_rate"`
	DeviationFromAvg   float64 `json:"deviation_from_avg"`
	Rank               int     `json:"rank"` // 1 = лучший предмет класса
	AvgScoreValueAdded float64 `json:"avg_score_value_added"`
	StudentCount       int     `json:"student_count"`
}

// SubjectBalanceAnalysis - равномерность развития класса по предметам.
type SubjectBalanceAnalysis struct {
	ClassName                string                `json:"class_name"`
	TotalScoreValueAddedRate float64               `json:"total_score_value_added_rate"`
	SubjectDeviation         float64               `json:"subject_deviation"`
	BalanceScore             float64               `json:"balance_score"`
	TotalRank                int                   `json:"total_rank"`
	Subjects                 []SubjectBalanceEntry `json:"subjects"`
	Strengths                []string              `json:"strengths"`
	Weaknesses               []string              `json:"weaknesses"`
}

// BalancePolicy - настраиваемые параметры балансового показателя.
//
//	balance_score = RateWeight*total_rate + DeviationWeight/(1+subject_deviation)
//
// При положительных весах показатель растёт с приростом и падает с разбросом.
type BalancePolicy struct {
	RateWeight        float64 `json:"rate_weight" yaml:"rate_weight"`
	DeviationWeight   float64 `json:"deviation_weight" yaml:"deviation_weight"`
	StrengthThreshold float64 `json:"strength_threshold" yaml:"strength_threshold"`
}

// DefaultBalancePolicy возвращает веса 1/1 и порог сильного предмета 0.05.
func DefaultBalancePolicy() BalancePolicy {
	return BalancePolicy{
		RateWeight:        1,
		DeviationWeight:   1,
		StrengthThreshold: 0.05,
	}
}

// Validate проверяет монотонность и неотрицательность порога.
func (p BalancePolicy) Validate() error {
	if p.RateWeight <= 0 || p.DeviationWeight <= 0 {
		return shared.NewDomainError("growth", "BalancePolicy.Validate", shared.ErrConfiguration,
			fmt.Sprintf("balance weights must be positive, got rate=%v deviation=%v", p.RateWeight, p.DeviationWeight))
	}
	if p.StrengthThreshold < 0 {
		return shared.NewDomainError("growth", "BalancePolicy.Validate", shared.ErrConfiguration,
			fmt.Sprintf("strength threshold must not be negative, got %v", p.StrengthThreshold))
	}
	return nil
}

// Score считает балансовый показатель.
func (p BalancePolicy) Score(totalRate, deviation float64) float64 {
	return p.RateWeight*totalRate + p.DeviationWeight/(1+deviation)
}

// BalanceEntries заполняет отклонение от среднего и место предмета в классе.
// Равные приросты получают одно место, порядок вывода - по месту, затем по предмету.
func BalanceEntries(entries []SubjectBalanceEntry) []SubjectBalanceEntry {
	out := make([]SubjectBalanceEntry, len(entries))
	copy(out, entries)
	if len(out) == 0 {
		return out
	}

	rates := make([]float64, len(out))
	for i, e := range out {
		rates[i] = e.ValueAddedRate
	}
	mean, _ := PopMeanStd(rates)
	for i := range out {
		out[i].DeviationFromAvg = out[i].ValueAddedRate - mean
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ValueAddedRate != out[j].ValueAddedRate {
			return out[i].ValueAddedRate > out[j].ValueAddedRate
		}
		return out[i].Subject < out[j].Subject
	})
	for i := range out {
		if i > 0 && out[i].ValueAddedRate == out[i-1].ValueAddedRate {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
	}
	return out
}

// AnalyzeBalance считает разброс прироста по предметам одного класса.
// TotalRank заполняется позже, в RankBalances.
func AnalyzeBalance(className string, subjects []SubjectBalanceEntry, policy BalancePolicy) SubjectBalanceAnalysis {
	entries := BalanceEntries(subjects)

	rates := make([]float64, len(entries))
	for i, e := range entries {
		rates[i] = e.ValueAddedRate
	}
	total, deviation := PopMeanStd(rates)

	a := SubjectBalanceAnalysis{
		ClassName:                className,
		TotalScoreValueAddedRate: total,
		SubjectDeviation:         deviation,
		BalanceScore:             policy.Score(total, deviation),
		Subjects:                 entries,
		Strengths:                []string{},
		Weaknesses:               []string{},
	}

	for _, e := range entries {
		switch {
		case e.DeviationFromAvg > policy.StrengthThreshold:
			a.Strengths = append(a.Strengths, e.Subject)
		case e.DeviationFromAvg < -policy.StrengthThreshold:
			a.Weaknesses = append(a.Weaknesses, e.Subject)
		}
	}
	return a
}

// RankBalances присваивает плотный ранг по balance_score (по убыванию),
// при равенстве - по общему приросту. Полностью равные классы делят место
// и выводятся по имени.
func RankBalances(analyses []SubjectBalanceAnalysis) []SubjectBalanceAnalysis {
	out := make([]SubjectBalanceAnalysis, len(analyses))
	copy(out, analyses)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BalanceScore != out[j].BalanceScore {
			return out[i].BalanceScore > out[j].BalanceScore
		}
		if out[i].TotalScoreValueAddedRate != out[j].TotalScoreValueAddedRate {
			return out[i].TotalScoreValueAddedRate > out[j].TotalScoreValueAddedRate
		}
		return out[i].ClassName < out[j].ClassName
	})

	rank := 0
	for i := range out {
		if i == 0 ||
			out[i].BalanceScore != out[i-1].BalanceScore ||
			out[i].TotalScoreValueAddedRate != out[i-1].TotalScoreValueAddedRate {
			rank++
		}
		out[i].TotalRank = rank
	}
	return out
}

// Verify проверяет, что все метрики анализа конечны.
func (a SubjectBalanceAnalysis) Verify() error {
	return verifyFinite("SubjectBalanceAnalysis "+a.ClassName, map[string]float64{
		"total_score_value_added_rate": a.TotalScoreValueAddedRate,
		"subject_deviation":            a.SubjectDeviation,
		"balance_score":                a.BalanceScore,
	})
}
