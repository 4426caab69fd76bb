package growth

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ══════════════════════════════════════════════════════════════════════════════
// COHORT
// ══════════════════════════════════════════════════════════════════════════════

// CohortScope определяет, по какой группе считается среднее и отклонение.
type CohortScope string

const (
	// CohortByGrade - когорта = параллель (все классы одного года обучения).
	// Это значение по умолчанию: при когорте-классе средний прирост класса
	// по построению всегда равен нулю.
	CohortByGrade CohortScope = "grade"

	// CohortByClass - когорта = отдельный класс.
	CohortByClass CohortScope = "class"
)

// allGroup - имя когорты, когда у записей не указана параллель.
const allGroup = "all"

// IsValid проверяет значение.
func (s CohortScope) IsValid() bool {
	return s == CohortByGrade || s == CohortByClass
}

// GroupOf возвращает имя группы, в которую попадает запись.
func (s CohortScope) GroupOf(r ScoreRecord) string {
	if s == CohortByClass {
		return r.ClassName
	}
	if r.Grade == "" {
		return allGroup
	}
	return r.Grade
}

// CohortKey - ключ когорты: (класс или параллель, предмет, этап).
type CohortKey struct {
	Group   string `json:"group"`
	Subject string `json:"subject"`
	Phase   Phase  `json:"phase"`
}

// String возвращает ключ в виде "group/subject/phase".
func (k CohortKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Group, k.Subject, k.Phase)
}

// ══════════════════════════════════════════════════════════════════════════════
// COHORT STATS
// ══════════════════════════════════════════════════════════════════════════════

// zeroStdEpsilon - отклонение ниже этого порога считается нулевым:
// сумма одинаковых дробных оценок может дать остаток порядка 1e-15.
const zeroStdEpsilon = 1e-12

// CohortStats - статистика одной когорты на одном этапе.
type CohortStats struct {
	Key          CohortKey `json:"key"`
	Mean         float64   `json:"mean"`
	Std          float64   `json:"std"`
	Count        int       `json:"count"`
	AbsentCount  int       `json:"absent_count"`
	MissingCount int       `json:"missing_count"`
}

// Empty возвращает true, если в когорте нет ни одной оценки.
func (c CohortStats) Empty() bool {
	return c.Count == 0
}

// Z возвращает z-оценку (score-mean)/std с полной точностью.
// При std == 0 (одна оценка или все одинаковые) результат ровно 0.
func (c CohortStats) Z(score float64) float64 {
	if c.Count == 0 || c.Std == 0 {
		return 0
	}
	return (score - c.Mean) / c.Std
}

// ComputeCohortStats считает генеральное среднее и стандартное отклонение
// по присутствующим оценкам. Отсутствия исключаются, но подсчитываются.
func ComputeCohortStats(key CohortKey, scores []Score) CohortStats {
	st := CohortStats{Key: key}
	values := make([]float64, 0, len(scores))

	for _, s := range scores {
		switch s.State() {
		case ScorePresent:
			v, _ := s.Value()
			values = append(values, v)
		case ScoreAbsent:
			st.AbsentCount++
		default:
			st.MissingCount++
		}
	}

	st.Count = len(values)
	if st.Count == 0 {
		return st
	}

	st.Mean, st.Std = PopMeanStd(values)
	return st
}

// PopMeanStd возвращает среднее и генеральное (не выборочное) отклонение.
// Пустой срез даёт (0, 0).
func PopMeanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean, variance := stat.PopMeanVariance(values, nil)
	if variance <= 0 {
		return mean, 0
	}
	std = math.Sqrt(variance)
	if std < zeroStdEpsilon {
		std = 0
	}
	return mean, std
}

// Normalize строит статистику всех когорт обоих этапов.
// Записи группируются по scope, предмету и этапу.
func Normalize(records []ScoreRecord, scope CohortScope) map[CohortKey]CohortStats {
	groups := make(map[CohortKey][]Score)
	for _, r := range records {
		group := scope.GroupOf(r)
		for _, phase := range []Phase{PhaseEntry, PhaseExit} {
			key := CohortKey{Group: group, Subject: r.Subject, Phase: phase}
			groups[key] = append(groups[key], r.ScoreFor(phase))
		}
	}

	stats := make(map[CohortKey]CohortStats, len(groups))
	for key, scores := range groups {
		stats[key] = ComputeCohortStats(key, scores)
	}
	return stats
}

// SortedCohorts возвращает статистику в стабильном порядке ключей.
func SortedCohorts(stats map[CohortKey]CohortStats) []CohortStats {
	out := make([]CohortStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.Phase < b.Phase
	})
	return out
}

// Round3 округляет до 3 знаков. Применяется только на границе представления.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
