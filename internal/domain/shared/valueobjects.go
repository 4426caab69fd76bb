package shared

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Scope Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Scope is the level an analysis is computed for.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeClass   Scope = "class"
	ScopeStudent Scope = "student"
	ScopeExam    Scope = "exam"
)

// AllScopes returns every known scope.
func AllScopes() []Scope {
	return []Scope{ScopeGlobal, ScopeClass, ScopeStudent, ScopeExam}
}

// IsValid checks if the scope is known.
func (s Scope) IsValid() bool {
	return slices.Contains(AllScopes(), s)
}

// String returns the string representation.
func (s Scope) String() string {
	return string(s)
}

// ParseScope converts a raw string into a Scope.
func ParseScope(raw string) (Scope, error) {
	s := Scope(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", ErrInvalidScope
	}
	return s, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Dimension & ReportType Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Dimension partitions stored results by the granularity they describe.
type Dimension string

const (
	DimensionClass   Dimension = "class"
	DimensionTeacher Dimension = "teacher"
	DimensionStudent Dimension = "student"
)

// IsValid checks if the dimension is known.
func (d Dimension) IsValid() bool {
	return d == DimensionClass || d == DimensionTeacher || d == DimensionStudent
}

// ReportType partitions stored results by the kind of report.
type ReportType string

const (
	ReportGrowth  ReportType = "growth"
	ReportBalance ReportType = "balance"
	ReportRisk    ReportType = "risk"
)

// IsValid checks if the report type is known.
func (r ReportType) IsValid() bool {
	return r == ReportGrowth || r == ReportBalance || r == ReportRisk
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a closed time period. A zero TimeRange means "all time".
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// IsZero reports whether the range is unbounded.
func (t TimeRange) IsZero() bool {
	return t.From.IsZero() && t.To.IsZero()
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	if t.IsZero() {
		return true
	}
	return !t.From.IsZero() && !t.To.IsZero() && !t.From.After(t.To)
}

// Contains checks if a time is within the range. An unbounded range contains everything.
func (t TimeRange) Contains(tm time.Time) bool {
	if t.IsZero() {
		return true
	}
	return !tm.Before(t.From) && !tm.After(t.To)
}

// String renders the range as "from..to" in UTC, or "all" when unbounded.
func (t TimeRange) String() string {
	if t.IsZero() {
		return "all"
	}
	return t.From.UTC().Format(time.RFC3339) + ".." + t.To.UTC().Format(time.RFC3339)
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, ErrInvalidRange
	}
	return tr, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// AnalysisKey Value Object
// ═══════════════════════════════════════════════════════════════════════════

// AnalysisKey identifies one computation: scope, target and time range.
// Results carry no identity beyond it; caches and stores are keyed by String().
type AnalysisKey struct {
	Scope     Scope     `json:"scope"`
	TargetID  string    `json:"target_id"`
	TimeRange TimeRange `json:"time_range"`
}

// NewAnalysisKey creates a validated key. Global scope needs no target.
func NewAnalysisKey(scope Scope, targetID string, tr TimeRange) (AnalysisKey, error) {
	if !scope.IsValid() {
		return AnalysisKey{}, ErrInvalidScope
	}
	if scope != ScopeGlobal && strings.TrimSpace(targetID) == "" {
		return AnalysisKey{}, NewDomainError("analysis", "NewAnalysisKey", ErrEmptyValue, "target id is required for scope "+scope.String())
	}
	if !tr.IsValid() {
		return AnalysisKey{}, ErrInvalidRange
	}
	return AnalysisKey{Scope: scope, TargetID: strings.TrimSpace(targetID), TimeRange: tr}, nil
}

// String returns a stable representation used as cache/storage key.
func (k AnalysisKey) String() string {
	target := k.TargetID
	if target == "" {
		target = "*"
	}
	return fmt.Sprintf("%s:%s:%s", k.Scope, target, k.TimeRange)
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 100
	// MaxPageSize bounds every stored-result page and every fetch batch.
	MaxPageSize = 1000
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}
