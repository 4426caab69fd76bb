package growth

import (
	"fmt"
	"math"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GROWTH RESULT
// ══════════════════════════════════════════════════════════════════════════════

// GrowthResult - прирост одного ученика по одному предмету.
// После создания не изменяется; агрегаты и представление только читают его.
type GrowthResult struct {
	StudentID string `json:"student_id"`
	ClassName string `json:"class_name"`
	Grade     string `json:"grade,omitempty"`
	Subject   string `json:"subject"`

	EntryScore float64 `json:"entry_score"`
	ExitScore  float64 `json:"exit_score"`
	EntryZ     float64 `json:"entry_z"`
	ExitZ      float64 `json:"exit_z"`

	EntryLevel string `json:"entry_level"`
	ExitLevel  string `json:"exit_level"`

	// ScoreValueAdded - абсолютная разница баллов exit - entry.
	ScoreValueAdded float64 `json:"score_value_added"`

	// ScoreValueAddedRate - изменение положения относительно когорты: exit_z - entry_z.
	// Ученик, державший темп на более трудном итоговом экзамене, не штрафуется.
	ScoreValueAddedRate float64 `json:"score_value_added_rate"`

	LevelChange    int            `json:"level_change"`
	IsConsolidated bool           `json:"is_consolidated"`
	IsTransformed  bool           `json:"is_transformed"`
	Transition     TransitionKind `json:"transition"`
}

// ComputeGrowth считает прирост по записи и статистике её когорт.
// Если хотя бы одна оценка отсутствует, запись исключается (ok == false),
// а не заполняется нулями.
func ComputeGrowth(r ScoreRecord, entry, exit CohortStats, scale *GradingScale) (GrowthResult, bool) {
	entryScore, okEntry := r.EntryScore.Value()
	exitScore, okExit := r.ExitScore.Value()
	if !okEntry || !okExit {
		return GrowthResult{}, false
	}

	entryZ := entry.Z(entryScore)
	exitZ := exit.Z(exitScore)

	entryLevel := scale.Classify(entryScore)
	exitLevel := scale.Classify(exitScore)
	t := ClassifyTransition(entryLevel, exitLevel)

	return GrowthResult{
		StudentID:           r.StudentID,
		ClassName:           r.ClassName,
		Grade:               r.Grade,
		Subject:             r.Subject,
		EntryScore:          entryScore,
		ExitScore:           exitScore,
		EntryZ:              entryZ,
		ExitZ:               exitZ,
		EntryLevel:          entryLevel.Name,
		ExitLevel:           exitLevel.Name,
		ScoreValueAdded:     exitScore - entryScore,
		ScoreValueAddedRate: exitZ - entryZ,
		LevelChange:         t.LevelChange,
		IsConsolidated:      t.IsConsolidated,
		IsTransformed:       t.IsTransformed,
		Transition:          t.Kind,
	}, true
}

// Verify проверяет, что все метрики конечны. NaN или Inf - дефект движка.
func (g GrowthResult) Verify() error {
	return verifyFinite("GrowthResult "+g.StudentID+"/"+g.Subject, map[string]float64{
		"entry_z":                g.EntryZ,
		"exit_z":                 g.ExitZ,
		"score_value_added":      g.ScoreValueAdded,
		"score_value_added_rate": g.ScoreValueAddedRate,
	})
}

// verifyFinite возвращает ErrComputation для первой (по имени) неконечной метрики.
func verifyFinite(owner string, metrics map[string]float64) error {
	var bad string
	for name, v := range metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			if bad == "" || name < bad {
				bad = name
			}
		}
	}
	if bad == "" {
		return nil
	}
	return shared.WrapError("growth", "Verify", shared.ErrComputation,
		fmt.Sprintf("%s: %s is %v", owner, bad, metrics[bad]), shared.ErrNonFiniteMetric)
}
