package risk

import (
	"context"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// EventPage - страница предупреждений и курсор следующей страницы.
type EventPage struct {
	Events     []WarningEvent
	NextCursor string
}

// EventRepository определяет контракт хранилища предупреждений.
// Реализация находится в infrastructure слое (PostgreSQL).
type EventRepository interface {
	// FetchEvents возвращает страницу событий для ключа: scope и scope_ref
	// совпадают с ключом (для global - все события), created_at в периоде ключа.
	FetchEvents(ctx context.Context, key shared.AnalysisKey, cursor string, limit int) (*EventPage, error)

	// SaveEvents сохраняет события; повторный ID игнорируется.
	SaveEvents(ctx context.Context, events []WarningEvent) error
}
