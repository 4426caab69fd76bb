package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ScoreRepository implements growth.ScoreRepository and growth.AssignmentRepository.
type ScoreRepository struct {
	conn *Connection
}

// NewScoreRepository creates a new ScoreRepository.
func NewScoreRepository(conn *Connection) *ScoreRepository {
	return &ScoreRepository{conn: conn}
}

// FetchScores pages through score_records by id. The cursor is the last id
// of the previous page.
func (r *ScoreRepository) FetchScores(ctx context.Context, filter growth.ScoreFilter, cursor string, limit int) (*growth.ScorePage, error) {
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = shared.Pagination{PageSize: limit}.Limit()

	w := newWhere()
	w.add("id > %s", after)
	if filter.Grade != "" {
		w.add("grade = %s", filter.Grade)
	}
	if filter.ClassName != "" {
		w.add("class_name = %s", filter.ClassName)
	}
	if !filter.TimeRange.IsZero() {
		w.add("recorded_at >= %s", filter.TimeRange.From)
		w.add("recorded_at <= %s", filter.TimeRange.To)
	}

	query := `
		SELECT id, student_id, class_name, grade, subject,
		       entry_score, entry_absent, exit_score, exit_absent
		FROM score_records
		` + w.sql() + `
		ORDER BY id
		LIMIT ` + strconv.Itoa(limit+1)

	rows, err := r.conn.Query(ctx, query, w.args...)
	if err != nil {
		return nil, storeError("fetch scores", err)
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
			entry, exit             *float64
			entryAbsent, exitAbsent bool
		)
		if err := rows.Scan(&lastID, &rec.StudentID, &rec.ClassName, &rec.Grade, &rec.Subject,
			&entry, &entryAbsent, &exit, &exitAbsent); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		rec.EntryScore = scoreFromColumns(entry, entryAbsent)
		rec.ExitScore = scoreFromColumns(exit, exitAbsent)
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("fetch scores", err)
	}
	return page, nil
}

// SaveScores upserts records in one batch and one transaction.
func (r *ScoreRepository) SaveScores(ctx context.Context, records []growth.ScoreRecord) error {
	if len(records) == 0 {
		return nil
	}

	const query = `
		INSERT INTO score_records (student_id, class_name, grade, subject,
			entry_score, entry_absent, exit_score, exit_absent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (student_id, class_name, subject) DO UPDATE SET
			grade = EXCLUDED.grade,
			entry_score = EXCLUDED.entry_score,
			entry_absent = EXCLUDED.entry_absent,
			exit_score = EXCLUDED.exit_score,
			exit_absent = EXCLUDED.exit_absent,
			updated_at = NOW()
	`

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, rec := range records {
			entry, entryAbsent := scoreColumns(rec.EntryScore)
			exit, exitAbsent := scoreColumns(rec.ExitScore)
			b.Queue(query, rec.StudentID, rec.ClassName, rec.Grade, rec.Subject,
				entry, entryAbsent, exit, exitAbsent)
		}
		if err := sendBatch(ctx, tx, b); err != nil {
			return storeError("save scores", err)
		}
		return nil
	})
}

// ListAssignments returns assignments for classes that have records in grade.
// An empty grade returns every assignment.
func (r *ScoreRepository) ListAssignments(ctx context.Context, grade string) ([]growth.TeachingAssignment, error) {
	const query = `
		SELECT teacher_id, teacher_name, class_name, subject
		FROM teaching_assignments
		WHERE $1 = '' OR class_name IN (SELECT DISTINCT class_name FROM score_records WHERE grade = $1)
		ORDER BY teacher_id, class_name, subject
	`

	rows, err := r.conn.Query(ctx, query, grade)
	if err != nil {
		return nil, storeError("list assignments", err)
	}
	defer rows.Close()

	out := []growth.TeachingAssignment{}
	for rows.Next() {
		var a growth.TeachingAssignment
		if err := rows.Scan(&a.TeacherID, &a.TeacherName, &a.ClassName, &a.Subject); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAssignments upserts assignments.
func (r *ScoreRepository) SaveAssignments(ctx context.Context, assignments []growth.TeachingAssignment) error {
	const query = `
		INSERT INTO teaching_assignments (teacher_id, class_name, subject, teacher_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (teacher_id, class_name, subject) DO UPDATE SET teacher_name = EXCLUDED.teacher_name
	`

	b := &pgx.Batch{}
	for _, a := range assignments {
		b.Queue(query, a.TeacherID, a.ClassName, a.Subject, a.TeacherName)
	}
	if err := sendBatch(ctx, r.conn, b); err != nil {
		return storeError("save assignments", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// scoreColumns maps a score onto (value, absent). Missing is (NULL, false).
func scoreColumns(s growth.Score) (*float64, bool) {
	if v, ok := s.Value(); ok {
		return &v, false
	}
	return nil, s.IsAbsent()
}

func scoreFromColumns(v *float64, absent bool) growth.Score {
	switch {
	case v != nil:
		return growth.Present(*v)
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
		return 0, shared.NewDomainError("postgres", "parseCursor", shared.ErrInvalidFormat,
			fmt.Sprintf("malformed cursor %q", cursor))
	}
	return n, nil
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

func newWhere() *where { return &where{} }

// add appends a condition; %s is replaced with the next $N placeholder.
func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, "$"+strconv.Itoa(len(w.args))))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}
