// Package risk содержит доменную модель оценки рисков: агрегацию
// предупреждений в ограниченный показатель 0-100, поиск закономерностей
// (тренд, аномалии, корреляции) и генерацию рекомендаций по правилам.
//
// Как и growth, пакет состоит из чистых функций без скрытого состояния,
// поэтому одинаковые параллельные вызовы можно безопасно объединять.
package risk

import (
	"sort"
	"strings"
	"time"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEVERITY
// ══════════════════════════════════════════════════════════════════════════════

// Severity - серьёзность предупреждения.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// MaxWeight - вес критического события, теоретический максимум на событие.
const MaxWeight = 10

// Weight возвращает вес серьёзности. Неизвестное значение весит как low.
func (s Severity) Weight() int {
	switch s {
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 5
	case SeverityCritical:
		return MaxWeight
	default:
		return 1
	}
}

// IsKnown возвращает true для одной из четырёх серьёзностей.
func (s Severity) IsKnown() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// IsSevere возвращает true для high и critical.
func (s Severity) IsSevere() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// ParseSeverity нормализует регистр и проверяет значение.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsKnown() {
		return SeverityLow, shared.ErrInvalidSeverity
	}
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WARNING EVENT
// ══════════════════════════════════════════════════════════════════════════════

// WarningEvent - предупреждение, созданное внешним движком правил.
// Анализ только читает события.
type WarningEvent struct {
	ID        string       `json:"id" validate:"required,notblank"`
	Severity  Severity     `json:"severity"`
	Category  string       `json:"category" validate:"required,notblank"`
	CreatedAt time.Time    `json:"created_at" validate:"required"`
	Scope     shared.Scope `json:"scope,omitempty" validate:"omitempty,oneof=global class student exam"`
	ScopeRef  string       `json:"scope_ref"`
	Message   string       `json:"message,omitempty"`
}

// sortEvents упорядочивает события по времени, затем по ID.
func sortEvents(events []WarningEvent) []WarningEvent {
	out := make([]WarningEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// categoryStat - счётчики одной категории.
type categoryStat struct {
	Category string
	Total    int
	Severe   int
	Critical int
}

// countCategories возвращает счётчики по категориям в алфавитном порядке.
func countCategories(events []WarningEvent) []categoryStat {
	idx := make(map[string]*categoryStat)
	for _, e := range events {
		c, ok := idx[e.Category]
		if !ok {
			c = &categoryStat{Category: e.Category}
			idx[e.Category] = c
		}
		c.Total++
		if e.Severity.IsSevere() {
			c.Severe++
		}
		if e.Severity == SeverityCritical {
			c.Critical++
		}
	}

	out := make([]categoryStat, 0, len(idx))
	for _, c := range idx {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
