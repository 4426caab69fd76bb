package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/growth-hub/internal/domain/risk"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// WARNING EVENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// EventRepository implements risk.EventRepository.
type EventRepository struct {
	conn *Connection
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(conn *Connection) *EventRepository {
	return &EventRepository{conn: conn}
}

// FetchEvents returns events matching the key in insertion order.
// Global keys match every event; other scopes match scope and scope_ref exactly.
func (r *EventRepository) FetchEvents(ctx context.Context, key shared.AnalysisKey, cursor string, limit int) (*risk.EventPage, error) {
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = shared.Pagination{PageSize: limit}.Limit()

	w := newWhere()
	w.add("seq > %s", after)
	if key.Scope != shared.ScopeGlobal {
		w.add("scope = %s", string(key.Scope))
		w.add("scope_ref = %s", key.TargetID)
	}
	if !key.TimeRange.IsZero() {
		w.add("created_at >= %s", key.TimeRange.From)
		w.add("created_at <= %s", key.TimeRange.To)
	}

	query := `
		SELECT seq, id, severity, category, scope, scope_ref, message, created_at
		FROM warning_events
		` + w.sql() + `
		ORDER BY seq
		LIMIT ` + strconv.Itoa(limit+1)

	rows, err := r.conn.Query(ctx, query, w.args...)
	if err != nil {
		return nil, storeError("fetch events", err)
	}
	defer rows.Close()

	page := &risk.EventPage{Events: make([]risk.WarningEvent, 0, limit)}
	var seq int64
	for rows.Next() {
		if len(page.Events) == limit {
			page.NextCursor = strconv.FormatInt(seq, 10)
			break
		}
		var (
			e        risk.WarningEvent
			severity string
			scope    string
		)
		if err := rows.Scan(&seq, &e.ID, &severity, &e.Category, &scope, &e.ScopeRef, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Severity = risk.Severity(severity)
		e.Scope = shared.Scope(scope)
		page.Events = append(page.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("fetch events", err)
	}
	return page, nil
}

// SaveEvents inserts events; an id that already exists is left untouched.
func (r *EventRepository) SaveEvents(ctx context.Context, events []risk.WarningEvent) error {
	const query = `
		INSERT INTO warning_events (id, severity, category, scope, scope_ref, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	b := &pgx.Batch{}
	for _, e := range events {
		b.Queue(query, e.ID, string(e.Severity), e.Category, string(e.Scope), e.ScopeRef, e.Message, e.CreatedAt.UTC())
	}
	if err := sendBatch(ctx, r.conn, b); err != nil {
		return storeError("save events", err)
	}
	return nil
}
