// Package sqlite is an embedded store for single-node deployments and the
// worker's offline mode. It holds the analysis inputs (scores, assignments,
// warning events) next to the stored results and the run journal.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alem-hub/growth-hub/internal/domain/analysis"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_results (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  analysis_key TEXT NOT NULL,
  key_json TEXT NOT NULL,
  dimension TEXT NOT NULL,
  report_type TEXT NOT NULL,
  subject_ref TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_key ON analysis_results(analysis_key, dimension, report_type, seq);
CREATE INDEX IF NOT EXISTS idx_results_dimension ON analysis_results(dimension, created_at);
CREATE TABLE IF NOT EXISTS analysis_runs (
  id TEXT PRIMARY KEY,
  key_json TEXT NOT NULL,
  status TEXT NOT NULL,
  stage TEXT NOT NULL,
  progress INTEGER NOT NULL,
  errors TEXT NOT NULL,
  warnings TEXT NOT NULL,
  started_at TEXT NOT NULL,
  finished_at TEXT
);
`

// Store implements analysis.ResultRepository, analysis.RunRepository,
// growth.ScoreRepository, growth.AssignmentRepository and
// risk.EventRepository on SQLite.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory, opens the database and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time keeps SQLite free of SQLITE_BUSY under the worker.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema + inputSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveResults replaces the rows of key in one transaction.
func (s *Store) SaveResults(ctx context.Context, key shared.AnalysisKey, results []analysis.Result) error {
	k := key.String()
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("sqlite: encode key: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_results WHERE analysis_key = ?`, k); err != nil {
		return fmt.Errorf("sqlite: clear results: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO analysis_results (run_id, analysis_key, key_json, dimension, report_type, subject_ref, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, r.RunID, k, string(keyJSON), string(r.Dimension), string(r.ReportType),
			r.SubjectRef, string(r.Payload), formatTime(r.CreatedAt)); err != nil {
			return fmt.Errorf("sqlite: insert result: %w", err)
		}
	}
	return tx.Commit()
}

// ListResults returns one page in insertion order. An empty filter key selects
// the key most recently written for the dimension.
func (s *Store) ListResults(ctx context.Context, filter analysis.ResultFilter, p shared.Pagination) (*analysis.ResultPage, error) {
	page := &analysis.ResultPage{Results: []analysis.Result{}, Page: p.Page}

	key := filter.Key
	if key == "" {
		err := s.db.QueryRowContext(ctx, `
			SELECT analysis_key FROM analysis_results
			WHERE dimension = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT 1`, string(filter.Dimension)).Scan(&key)
		if err == sql.ErrNoRows {
			return page, nil
		}
		if err != nil {
			return nil, fmt.Errorf("sqlite: latest result key: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, key_json, dimension, report_type, subject_ref, payload, created_at
		FROM analysis_results
		WHERE analysis_key = ? AND dimension = ? AND (? = '' OR report_type = ?)
		ORDER BY seq
		LIMIT ? OFFSET ?`,
		key, string(filter.Dimension), string(filter.ReportType), string(filter.ReportType),
		p.Limit()+1, p.Offset())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if len(page.Results) == p.Limit() {
			page.HasMore = true
			break
		}
		var (
			r                         analysis.Result
			keyJSON, dim, rt, payload string
			created                   string
		)
		if err := rows.Scan(&r.RunID, &keyJSON, &dim, &rt, &r.SubjectRef, &payload, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(keyJSON), &r.Key); err != nil {
			return nil, fmt.Errorf("sqlite: decode key: %w", err)
		}
		r.Dimension = shared.Dimension(dim)
		r.ReportType = shared.ReportType(rt)
		r.Payload = json.RawMessage(payload)
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		page.Results = append(page.Results, r)
	}
	return page, rows.Err()
}

// SaveRun inserts or replaces a run journal entry.
func (s *Store) SaveRun(ctx context.Context, run *analysis.Run) error {
	keyJSON, err := json.Marshal(run.Key)
	if err != nil {
		return fmt.Errorf("sqlite: encode run key: %w", err)
	}
	errs, _ := json.Marshal(nonNil(run.Errors))
	warns, _ := json.Marshal(nonNil(run.Warnings))

	var finished sql.NullString
	if run.FinishedAt != nil {
		finished = sql.NullString{String: formatTime(*run.FinishedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_runs (id, key_json, status, stage, progress, errors, warnings, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			stage = excluded.stage,
			progress = excluded.progress,
			errors = excluded.errors,
			warnings = excluded.warnings,
			finished_at = excluded.finished_at`,
		run.ID, string(keyJSON), string(run.Status), run.Stage, run.Progress,
		string(errs), string(warns), formatTime(run.StartedAt), finished)
	if err != nil {
		return fmt.Errorf("sqlite: save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns a run or shared.ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*analysis.Run, error) {
	var (
		run                                   analysis.Run
		keyJSON, status, errs, warns, started string
		finished                              sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key_json, status, stage, progress, errors, warnings, started_at, finished_at
		FROM analysis_runs WHERE id = ?`, id).
		Scan(&run.ID, &keyJSON, &status, &run.Stage, &run.Progress, &errs, &warns, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, shared.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get run %s: %w", id, err)
	}

	run.Status = analysis.RunStatus(status)
	if err := json.Unmarshal([]byte(keyJSON), &run.Key); err != nil {
		return nil, fmt.Errorf("sqlite: decode run key: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &run.Errors); err != nil {
		return nil, fmt.Errorf("sqlite: decode run errors: %w", err)
	}
	if err := json.Unmarshal([]byte(warns), &run.Warnings); err != nil {
		return nil, fmt.Errorf("sqlite: decode run warnings: %w", err)
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}
	return &run, nil
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", v, err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
