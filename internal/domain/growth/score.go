// Package growth содержит доменную модель анализа прироста (value-added):
// нормализацию оценок по когорте, классификацию уровней, расчёт прироста
// по ученику, классу и учителю, а также анализ баланса предметов.
//
// Все функции пакета чистые: одинаковый вход даёт побитово одинаковый выход,
// пакет не обращается к часам и не хранит изменяемого состояния.
package growth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE (tri-state)
// ══════════════════════════════════════════════════════════════════════════════

// ScoreState - состояние ячейки с оценкой.
type ScoreState uint8

const (
	// ScoreMissing - значение не передано вовсе.
	ScoreMissing ScoreState = iota

	// ScoreAbsent - ученик явно отсутствовал на экзамене.
	ScoreAbsent

	// ScorePresent - оценка есть.
	ScorePresent
)

// String возвращает строковое представление состояния.
func (s ScoreState) String() string {
	switch s {
	case ScoreAbsent:
		return "absent"
	case ScorePresent:
		return "present"
	default:
		return "missing"
	}
}

// Score - оценка с явным третьим состоянием.
// Отсутствие никогда не превращается в 0 для статистики.
type Score struct {
	state ScoreState
	value float64
}

// Present создаёт оценку со значением.
func Present(v float64) Score {
	return Score{state: ScorePresent, value: v}
}

// Absent создаёт отметку об отсутствии.
func Absent() Score {
	return Score{state: ScoreAbsent}
}

// Missing создаёт пустую ячейку.
func Missing() Score {
	return Score{state: ScoreMissing}
}

// State возвращает состояние оценки.
func (s Score) State() ScoreState { return s.state }

// IsPresent возвращает true, если оценка есть.
func (s Score) IsPresent() bool { return s.state == ScorePresent }

// IsAbsent возвращает true, если ученик отсутствовал.
func (s Score) IsAbsent() bool { return s.state == ScoreAbsent }

// IsMissing возвращает true, если значение не передано.
func (s Score) IsMissing() bool { return s.state == ScoreMissing }

// Value возвращает значение и признак его наличия.
func (s Score) Value() (float64, bool) {
	return s.value, s.state == ScorePresent
}

// InRange проверяет инвариант: присутствующая оценка лежит в [0,100].
// Отсутствующие и пустые оценки всегда корректны.
func (s Score) InRange() bool {
	if s.state != ScorePresent {
		return true
	}
	return s.value >= MinScore && s.value <= MaxScore
}

// String возвращает строковое представление оценки.
func (s Score) String() string {
	if s.state == ScorePresent {
		return strconv.FormatFloat(s.value, 'f', -1, 64)
	}
	return s.state.String()
}

const (
	// MinScore - минимальная допустимая оценка.
	MinScore = 0.0
	// MaxScore - максимальная допустимая оценка.
	MaxScore = 100.0
)

// absenceMarkers - отметки отсутствия, встречающиеся в импортируемых таблицах.
var absenceMarkers = map[string]struct{}{
	"q":      {},
	"n":      {},
	"缺考":     {},
	"absent": {},
	"abs":    {},
}

// ParseScore разбирает значение ячейки один раз, на границе импорта.
// Пустая строка даёт Missing, отметка отсутствия даёт Absent,
// число вне [0,100] даёт ошибку.
func ParseScore(raw string) (Score, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return Missing(), nil
	}
	if _, ok := absenceMarkers[strings.ToLower(v)]; ok {
		return Absent(), nil
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return Missing(), shared.WrapError("growth", "ParseScore", shared.ErrInvalidFormat,
			fmt.Sprintf("cannot parse score %q", raw), err)
	}

	s := Present(f)
	if !s.InRange() {
		return Missing(), scoreOutOfRange(f)
	}
	return s, nil
}

// scoreOutOfRange возвращает ошибку для оценки вне диапазона.
func scoreOutOfRange(v float64) error {
	return shared.WrapError("growth", "ParseScore", shared.ErrValueOutOfRange,
		fmt.Sprintf("score %v outside [0,100]", v), shared.ErrScoreOutOfRange)
}

// MarshalJSON: число для оценки, "absent" для отсутствия, null для пустой ячейки.
func (s Score) MarshalJSON() ([]byte, error) {
	switch s.state {
	case ScorePresent:
		return json.Marshal(s.value)
	case ScoreAbsent:
		return []byte(`"absent"`), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON принимает число, строку-отметку или null.
// Диапазон не проверяется здесь: это задача валидации записи.
func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Missing()
		return nil
	}

	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		trimmed := strings.TrimSpace(raw)
		if _, ok := absenceMarkers[strings.ToLower(trimmed)]; ok {
			*s = Absent()
			return nil
		}
		if trimmed == "" {
			*s = Missing()
			return nil
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return shared.WrapError("growth", "UnmarshalScore", shared.ErrInvalidFormat,
				fmt.Sprintf("cannot parse score %q", raw), err)
		}
		*s = Present(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Present(f)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Phase - этап оценивания.
type Phase string

const (
	// PhaseEntry - входной срез.
	PhaseEntry Phase = "entry"
	// PhaseExit - итоговый срез.
	PhaseExit Phase = "exit"
)

// ScoreRecord - пара оценок ученика по одному предмету.
type ScoreRecord struct {
	StudentID  string `json:"student_id" validate:"required,notblank"`
	ClassName  string `json:"class_name" validate:"required,notblank"`
	Grade      string `json:"grade,omitempty"`
	Subject    string `json:"subject" validate:"required,notblank"`
	EntryScore Score  `json:"entry_score" validate:"omitempty,gte=0,lte=100"`
	ExitScore  Score  `json:"exit_score" validate:"omitempty,gte=0,lte=100"`
}

// ScoreFor возвращает оценку указанного этапа.
func (r ScoreRecord) ScoreFor(p Phase) Score {
	if p == PhaseExit {
		return r.ExitScore
	}
	return r.EntryScore
}

// Paired возвращает true, если есть обе оценки.
func (r ScoreRecord) Paired() bool {
	return r.EntryScore.IsPresent() && r.ExitScore.IsPresent()
}

// TeachingAssignment связывает учителя с классом и предметом.
type TeachingAssignment struct {
	TeacherID   string `json:"teacher_id" validate:"required,notblank"`
	TeacherName string `json:"teacher_name"`
	ClassName   string `json:"class_name" validate:"required,notblank"`
	Subject     string `json:"subject" validate:"required,notblank"`
}
