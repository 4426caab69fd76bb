package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/growth-hub/internal/domain/analysis"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANALYSIS RESULT & RUN REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AnalysisRepository implements analysis.ResultRepository and analysis.RunRepository.
type AnalysisRepository struct {
	conn *Connection
}

// NewAnalysisRepository creates a new AnalysisRepository.
func NewAnalysisRepository(conn *Connection) *AnalysisRepository {
	return &AnalysisRepository{conn: conn}
}

// SaveResults replaces the rows of key with results in one transaction,
// so readers never observe a half-written run.
func (r *AnalysisRepository) SaveResults(ctx context.Context, key shared.AnalysisKey, results []analysis.Result) error {
	const insert = `
		INSERT INTO analysis_results (run_id, analysis_key, dimension, report_type, subject_ref, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	k := key.String()

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM analysis_results WHERE analysis_key = $1`, k); err != nil {
			return storeError("clear results", err)
		}

		// Chunked so a single batch never exceeds one result page.
		for start := 0; start < len(results); start += shared.MaxPageSize {
			end := start + shared.MaxPageSize
			if end > len(results) {
				end = len(results)
			}
			b := &pgx.Batch{}
			for _, res := range results[start:end] {
				b.Queue(insert, res.RunID, k, string(res.Dimension), string(res.ReportType),
					res.SubjectRef, []byte(res.Payload), res.CreatedAt.UTC())
			}
			if err := sendBatch(ctx, tx, b); err != nil {
				return storeError("insert results", err)
			}
		}
		return nil
	})
}

// ListResults returns one page in insertion order. An empty filter key selects
// the key most recently written for the dimension.
func (r *AnalysisRepository) ListResults(ctx context.Context, filter analysis.ResultFilter, p shared.Pagination) (*analysis.ResultPage, error) {
	key := filter.Key
	if key == "" {
		err := r.conn.QueryRow(ctx, `
			SELECT analysis_key FROM analysis_results
			WHERE dimension = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT 1`, string(filter.Dimension)).Scan(&key)
		if IsNoRows(err) {
			return &analysis.ResultPage{Results: []analysis.Result{}, Page: p.Page}, nil
		}
		if err != nil {
			return nil, storeError("latest result key", err)
		}
	}

	w := newWhere()
	w.add("analysis_key = %s", key)
	w.add("dimension = %s", string(filter.Dimension))
	if filter.ReportType != "" {
		w.add("report_type = %s", string(filter.ReportType))
	}

	query := `
		SELECT run_id, analysis_key, dimension, report_type, subject_ref, payload, created_at
		FROM analysis_results
		` + w.sql() + `
		ORDER BY seq
		LIMIT ` + strconv.Itoa(p.Limit()+1) + ` OFFSET ` + strconv.Itoa(p.Offset())

	rows, err := r.conn.Query(ctx, query, w.args...)
	if err != nil {
		return nil, storeError("list results", err)
	}
	defer rows.Close()

	page := &analysis.ResultPage{Results: make([]analysis.Result, 0, p.Limit()), Page: p.Page}
	for rows.Next() {
		if len(page.Results) == p.Limit() {
			page.HasMore = true
			break
		}
		var (
			res        analysis.Result
			storedKey  string
			dim, rtype string
			payload    []byte
		)
		if err := rows.Scan(&res.RunID, &storedKey, &dim, &rtype, &res.SubjectRef, &payload, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Dimension = shared.Dimension(dim)
		res.ReportType = shared.ReportType(rtype)
		res.Payload = json.RawMessage(payload)
		page.Results = append(page.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list results", err)
	}

	if len(page.Results) > 0 {
		if k, err := r.runKey(ctx, page.Results[0].RunID); err == nil {
			for i := range page.Results {
				page.Results[i].Key = k
			}
		}
	}
	return page, nil
}

func (r *AnalysisRepository) runKey(ctx context.Context, runID string) (shared.AnalysisKey, error) {
	var raw []byte
	var k shared.AnalysisKey
	if err := r.conn.QueryRow(ctx, `SELECT key_json FROM analysis_runs WHERE id = $1`, runID).Scan(&raw); err != nil {
		return k, err
	}
	err := json.Unmarshal(raw, &k)
	return k, err
}

// SaveRun inserts or updates a run journal entry.
func (r *AnalysisRepository) SaveRun(ctx context.Context, run *analysis.Run) error {
	keyJSON, err := json.Marshal(run.Key)
	if err != nil {
		return fmt.Errorf("encode run key: %w", err)
	}
	errs, _ := json.Marshal(nonNil(run.Errors))
	warns, _ := json.Marshal(nonNil(run.Warnings))

	_, err = r.conn.Exec(ctx, `
		INSERT INTO analysis_runs (id, analysis_key, key_json, status, stage, progress, errors, warnings, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			stage = EXCLUDED.stage,
			progress = EXCLUDED.progress,
			errors = EXCLUDED.errors,
			warnings = EXCLUDED.warnings,
			finished_at = EXCLUDED.finished_at
	`, run.ID, run.Key.String(), keyJSON, string(run.Status), run.Stage, run.Progress,
		errs, warns, run.StartedAt.UTC(), utcPtr(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns a run or shared.ErrRunNotFound.
func (r *AnalysisRepository) GetRun(ctx context.Context, id string) (*analysis.Run, error) {
	var (
		run            analysis.Run
		keyJSON        []byte
		status         string
		errs, warnings []byte
	)
	err := r.conn.QueryRow(ctx, `
		SELECT id, key_json, status, stage, progress, errors, warnings, started_at, finished_at
		FROM analysis_runs WHERE id = $1
	`, id).Scan(&run.ID, &keyJSON, &status, &run.Stage, &run.Progress, &errs, &warnings, &run.StartedAt, &run.FinishedAt)
	if IsNoRows(err) {
		return nil, shared.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	run.Status = analysis.RunStatus(status)
	if err := json.Unmarshal(keyJSON, &run.Key); err != nil {
		return nil, fmt.Errorf("decode run key: %w", err)
	}
	if err := json.Unmarshal(errs, &run.Errors); err != nil {
		return nil, fmt.Errorf("decode run errors: %w", err)
	}
	if err := json.Unmarshal(warnings, &run.Warnings); err != nil {
		return nil, fmt.Errorf("decode run warnings: %w", err)
	}
	return &run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
