package growth

import (
	"fmt"
	"strings"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADING SCALE
// ══════════════════════════════════════════════════════════════════════════════

// LevelDef - уровень шкалы оценивания в том виде, в каком он приходит из конфигурации.
type LevelDef struct {
	Name     string  `json:"name" yaml:"name"`
	MinScore float64 `json:"min_score" yaml:"min_score"`
	Color    string  `json:"color,omitempty" yaml:"color,omitempty"`
}

// Level - результат классификации оценки.
type Level struct {
	Name    string `json:"name"`
	Ordinal int    `json:"ordinal"` // 0 = высший уровень
	Color   string `json:"color,omitempty"`
}

// IsTop возвращает true для высшего уровня.
func (l Level) IsTop() bool {
	return l.Ordinal == 0
}

// GradingScale - проверенная шкала, упорядоченная по min_score по убыванию.
type GradingScale struct {
	levels []LevelDef
}

// NewGradingScale проверяет шкалу в том порядке, в каком она задана.
// Пустая шкала, min_score не строго по убыванию, пустое имя или порог вне [0,100]
// дают ошибку конфигурации.
func NewGradingScale(defs []LevelDef) (*GradingScale, error) {
	if len(defs) == 0 {
		return nil, shared.ErrEmptyGradingScale
	}

	names := make(map[string]struct{}, len(defs))
	for i, l := range defs {
		if strings.TrimSpace(l.Name) == "" {
			return nil, shared.NewDomainError("growth", "NewGradingScale", shared.ErrConfiguration,
				fmt.Sprintf("level #%d has no name", i+1))
		}
		if _, dup := names[l.Name]; dup {
			return nil, shared.NewDomainError("growth", "NewGradingScale", shared.ErrConfiguration,
				fmt.Sprintf("level %q is defined twice", l.Name))
		}
		names[l.Name] = struct{}{}

		if l.MinScore < MinScore || l.MinScore > MaxScore {
			return nil, shared.NewDomainError("growth", "NewGradingScale", shared.ErrConfiguration,
				fmt.Sprintf("level %q min_score %v outside [0,100]", l.Name, l.MinScore))
		}
		if i > 0 && l.MinScore >= defs[i-1].MinScore {
			return nil, shared.WrapError("growth", "NewGradingScale", shared.ErrConfiguration,
				fmt.Sprintf("level %q min_score %v is not below %q min_score %v",
					l.Name, l.MinScore, defs[i-1].Name, defs[i-1].MinScore),
				shared.ErrUnorderedGradingScale)
		}
	}

	levels := make([]LevelDef, len(defs))
	copy(levels, defs)
	return &GradingScale{levels: levels}, nil
}

// Levels возвращает копию упорядоченной шкалы.
func (g *GradingScale) Levels() []LevelDef {
	out := make([]LevelDef, len(g.levels))
	copy(out, g.levels)
	return out
}

// Len возвращает число уровней.
func (g *GradingScale) Len() int {
	return len(g.levels)
}

// Top возвращает высший уровень.
func (g *GradingScale) Top() Level {
	return g.level(0)
}

// Classify возвращает первый уровень с min_score <= score.
// Оценка ниже всех порогов получает низший уровень.
func (g *GradingScale) Classify(score float64) Level {
	for i, l := range g.levels {
		if l.MinScore <= score {
			return g.level(i)
		}
	}
	return g.level(len(g.levels) - 1)
}

func (g *GradingScale) level(i int) Level {
	l := g.levels[i]
	return Level{Name: l.Name, Ordinal: i, Color: l.Color}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL TRANSITION
// ══════════════════════════════════════════════════════════════════════════════

// TransitionKind - категория перехода между уровнями.
type TransitionKind string

const (
	// TransitionConsolidated - вход и выход на высшем уровне.
	TransitionConsolidated TransitionKind = "consolidated"
	// TransitionTransformed - уровень строго вырос, вход был не высшим.
	TransitionTransformed TransitionKind = "transformed"
	// TransitionMaintained - уровень не изменился и он не высший.
	TransitionMaintained TransitionKind = "maintained"
	// TransitionDeclined - уровень снизился.
	TransitionDeclined TransitionKind = "declined"
)

// Transition - переход ученика между входным и итоговым уровнями.
type Transition struct {
	LevelChange    int            `json:"level_change"` // > 0 = рост
	IsConsolidated bool           `json:"is_consolidated"`
	IsTransformed  bool           `json:"is_transformed"`
	Kind           TransitionKind `json:"kind"`
}

// ClassifyTransition сравнивает порядковые номера уровней.
func ClassifyTransition(entry, exit Level) Transition {
	t := Transition{LevelChange: entry.Ordinal - exit.Ordinal}

	switch {
	case entry.IsTop() && exit.IsTop():
		t.IsConsolidated = true
		t.Kind = TransitionConsolidated
	case exit.Ordinal < entry.Ordinal:
		t.IsTransformed = true
		t.Kind = TransitionTransformed
	case t.LevelChange < 0:
		t.Kind = TransitionDeclined
	default:
		t.Kind = TransitionMaintained
	}
	return t
}
