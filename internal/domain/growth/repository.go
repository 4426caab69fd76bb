package growth

import (
	"context"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// ScoreFilter ограничивает выборку оценок.
type ScoreFilter struct {
	// Grade - параллель; пустая строка = все.
	Grade string

	// ClassName - класс; пустая строка = все классы параллели.
	ClassName string

	// TimeRange - период экзамена; нулевой = всё время.
	TimeRange shared.TimeRange
}

// ScorePage - страница оценок и курсор следующей страницы.
// Пустой NextCursor означает, что данных больше нет.
type ScorePage struct {
	Records    []ScoreRecord
	NextCursor string
}

// ScoreRepository определяет контракт хранилища оценок.
// Реализация находится в infrastructure слое (PostgreSQL).
type ScoreRepository interface {
	// FetchScores возвращает страницу оценок, начиная после cursor.
	// limit не превышает shared.MaxPageSize.
	FetchScores(ctx context.Context, filter ScoreFilter, cursor string, limit int) (*ScorePage, error)

	// SaveScores сохраняет (upsert) пакет оценок.
	SaveScores(ctx context.Context, records []ScoreRecord) error
}

// AssignmentRepository определяет контракт хранилища назначений учителей.
type AssignmentRepository interface {
	// ListAssignments возвращает назначения по параллели (пустая = все).
	ListAssignments(ctx context.Context, grade string) ([]TeachingAssignment, error)

	// SaveAssignments сохраняет (upsert) назначения.
	SaveAssignments(ctx context.Context, assignments []TeachingAssignment) error
}
