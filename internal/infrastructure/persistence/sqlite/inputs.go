package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/risk"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

const inputSchema = `
CREATE TABLE IF NOT EXISTS score_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  student_id TEXT NOT NULL,
  class_name TEXT NOT NULL,
  grade TEXT NOT NULL DEFAULT '',
  subject TEXT NOT NULL,
  entry_score REAL,
  entry_absent INTEGER NOT NULL DEFAULT 0,
  exit_score REAL,
  exit_absent INTEGER NOT NULL DEFAULT 0,
  recorded_at TEXT NOT NULL,
  UNIQUE (student_id, class_name, subject)
);
CREATE INDEX IF NOT EXISTS idx_scores_grade ON score_records(grade, id);
CREATE TABLE IF NOT EXISTS teaching_assignments (
  teacher_id TEXT NOT NULL,
  class_name TEXT NOT NULL,
  subject TEXT NOT NULL,
  teacher_name TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (teacher_id, class_name, subject)
);
CREATE TABLE IF NOT EXISTS warning_events (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  severity TEXT NOT NULL,
  category TEXT NOT NULL,
  scope TEXT NOT NULL DEFAULT '',
  scope_ref TEXT NOT NULL DEFAULT '',
  message TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_scope ON warning_events(scope, scope_ref, created_at, seq);
`

// ══════════════════════════════════════════════════════════════════════════════
// SCORES
// ══════════════════════════════════════════════════════════════════════════════

// FetchScores pages through score_records by id; the cursor is the last id
// of the previous page.
func (s *Store) FetchScores(ctx context.Context, filter growth.ScoreFilter, cursor string, limit int) (*growth.ScorePage, error) {
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = shared.Pagination{PageSize: limit}.Limit()

	conds := []string{"id > ?"}
	args := []interface{}{after}
	if filter.Grade != "" {
		conds = append(conds, "grade = ?")
		args = append(args, filter.Grade)
	}
	if filter.ClassName != "" {
		conds = append(conds, "class_name = ?")
		args = append(args, filter.ClassName)
	}
	if !filter.TimeRange.IsZero() {
		conds = append(conds, "recorded_at >= ?", "recorded_at <= ?")
		args = append(args, formatTime(filter.TimeRange.From), formatTime(filter.TimeRange.To))
	}
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, class_name, grade, subject,
		       entry_score, entry_absent, exit_score, exit_absent
		FROM score_records
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY id
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch scores: %w", err)
	}
	defer rows.Close()

	page := &growth.ScorePage{Records: make([]growth.ScoreRecord, 0, limit)}
	var lastID int64
	for rows.Next() {
		if len(page.Records) == limit {
			page.NextCursor = strconv.FormatInt(lastID, 10)
			break
		}
		var (
			rec                     growth.ScoreRecord
			entry, exit             sql.NullFloat64
			entryAbsent, exitAbsent bool
		)
		if err := rows.Scan(&lastID, &rec.StudentID, &rec.ClassName, &rec.Grade, &rec.Subject,
			&entry, &entryAbsent, &exit, &exitAbsent); err != nil {
			return nil, fmt.Errorf("sqlite: scan score: %w", err)
		}
		rec.EntryScore = scoreFromColumns(entry, entryAbsent)
		rec.ExitScore = scoreFromColumns(exit, exitAbsent)
		page.Records = append(page.Records, rec)
	}
	return page, rows.Err()
}

// SaveScores upserts records in one transaction. recorded_at is refreshed
// on every write.
func (s *Store) SaveScores(ctx context.Context, records []growth.ScoreRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := formatTime(time.Now())

	return s.inTx(ctx, `
		INSERT INTO score_records (student_id, class_name, grade, subject,
			entry_score, entry_absent, exit_score, exit_absent, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(student_id, class_name, subject) DO UPDATE SET
			grade = excluded.grade,
			entry_score = excluded.entry_score,
			entry_absent = excluded.entry_absent,
			exit_score = excluded.exit_score,
			exit_absent = excluded.exit_absent,
			recorded_at = excluded.recorded_at`,
		len(records), func(i int) []interface{} {
			rec := records[i]
			entry, entryAbsent := scoreColumns(rec.EntryScore)
			exit, exitAbsent := scoreColumns(rec.ExitScore)
			return []interface{}{rec.StudentID, rec.ClassName, rec.Grade, rec.Subject,
				entry, entryAbsent, exit, exitAbsent, now}
		})
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENTS
// ══════════════════════════════════════════════════════════════════════════════

// ListAssignments returns assignments for classes that have records in grade.
// An empty grade returns every assignment.
func (s *Store) ListAssignments(ctx context.Context, grade string) ([]growth.TeachingAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT teacher_id, teacher_name, class_name, subject
		FROM teaching_assignments
		WHERE ? = '' OR class_name IN (SELECT DISTINCT class_name FROM score_records WHERE grade = ?)
		ORDER BY teacher_id, class_name, subject`, grade, grade)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list assignments: %w", err)
	}
	defer rows.Close()

	out := []growth.TeachingAssignment{}
	for rows.Next() {
		var a growth.TeachingAssignment
		if err := rows.Scan(&a.TeacherID, &a.TeacherName, &a.ClassName, &a.Subject); err != nil {
			return nil, fmt.Errorf("sqlite: scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAssignments upserts assignments.
func (s *Store) SaveAssignments(ctx context.Context, assignments []growth.TeachingAssignment) error {
	return s.inTx(ctx, `
		INSERT INTO teaching_assignments (teacher_id, class_name, subject, teacher_name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(teacher_id, class_name, subject) DO UPDATE SET teacher_name = excluded.teacher_name`,
		len(assignments), func(i int) []interface{} {
			a := assignments[i]
			return []interface{}{a.TeacherID, a.ClassName, a.Subject, a.TeacherName}
		})
}

// ══════════════════════════════════════════════════════════════════════════════
// WARNING EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// FetchEvents returns events matching the key in insertion order.
// Global keys match every event.
func (s *Store) FetchEvents(ctx context.Context, key shared.AnalysisKey, cursor string, limit int) (*risk.EventPage, error) {
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = shared.Pagination{PageSize: limit}.Limit()

	conds := []string{"seq > ?"}
	args := []interface{}{after}
	if key.Scope != shared.ScopeGlobal {
		conds = append(conds, "scope = ?", "scope_ref = ?")
		args = append(args, string(key.Scope), key.TargetID)
	}
	if !key.TimeRange.IsZero() {
		conds = append(conds, "created_at >= ?", "created_at <= ?")
		args = append(args, formatTime(key.TimeRange.From), formatTime(key.TimeRange.To))
	}
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, severity, category, scope, scope_ref, message, created_at
		FROM warning_events
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY seq
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch events: %w", err)
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
			e                        risk.WarningEvent
			severity, scope, created string
		)
		if err := rows.Scan(&seq, &e.ID, &severity, &e.Category, &scope, &e.ScopeRef, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		e.Severity = risk.Severity(severity)
		e.Scope = shared.Scope(scope)
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		page.Events = append(page.Events, e)
	}
	return page, rows.Err()
}

// SaveEvents inserts events; an id that already exists is left untouched.
func (s *Store) SaveEvents(ctx context.Context, events []risk.WarningEvent) error {
	return s.inTx(ctx, `
		INSERT INTO warning_events (id, severity, category, scope, scope_ref, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		len(events), func(i int) []interface{} {
			e := events[i]
			return []interface{}{e.ID, string(e.Severity), e.Category, string(e.Scope), e.ScopeRef, e.Message, formatTime(e.CreatedAt)}
		})
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// inTx executes query n times with args(i) inside one transaction.
func (s *Store) inTx(ctx context.Context, query string, n int, args func(i int) []interface{}) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("sqlite: exec row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// scoreColumns maps a score onto (value, absent). Missing is (NULL, false).
func scoreColumns(sc growth.Score) (sql.NullFloat64, bool) {
	if v, ok := sc.Value(); ok {
		return sql.NullFloat64{Float64: v, Valid: true}, false
	}
	return sql.NullFloat64{}, sc.IsAbsent()
}

func scoreFromColumns(v sql.NullFloat64, absent bool) growth.Score {
	switch {
	case v.Valid:
		return growth.Present(v.Float64)
	case absent:
		return growth.Absent()
	default:
		return growth.Missing()
	}
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || n < 0 {
		return 0, shared.NewDomainError("sqlite", "parseCursor", shared.ErrInvalidFormat,
			fmt.Sprintf("malformed cursor %q", cursor))
	}
	return n, nil
}
