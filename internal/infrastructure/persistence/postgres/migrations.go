package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one versioned schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	table      string
}

// NewMigrator creates a migrator over the embedded schema.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: Migrations(), table: "schema_migrations"}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, m.table))
	if err != nil {
		return fmt.Errorf("create %s: %w", m.table, err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s", m.table))
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		out[v] = at
	}
	return out, rows.Err()
}

// Migrate applies every pending migration, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.table), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the most recent applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	var last *Migration
	for i := range m.migrations {
		if _, ok := done[m.migrations[i].Version]; ok {
			last = &m.migrations[i]
		}
	}
	if last == nil {
		return nil
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, last.DownSQL); err != nil {
			return fmt.Errorf("%w: rollback %d: %v", ErrMigrationFailed, last.Version, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.table), last.Version)
		return err
	})
}

// Status lists the embedded migrations with their applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := done[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migrations returns the schema in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_score_records", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_warning_events", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_analysis_results", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

const migration001Up = `
-- Entry and exit scores per (student, class, subject).
-- NULL score with *_absent = FALSE means the value was never supplied.
CREATE TABLE IF NOT EXISTS score_records (
    id           BIGSERIAL PRIMARY KEY,
    student_id   VARCHAR(64)  NOT NULL,
    class_name   VARCHAR(64)  NOT NULL,
    grade        VARCHAR(16)  NOT NULL DEFAULT '',
    subject      VARCHAR(64)  NOT NULL,
    entry_score  DOUBLE PRECISION,
    entry_absent BOOLEAN      NOT NULL DEFAULT FALSE,
    exit_score   DOUBLE PRECISION,
    exit_absent  BOOLEAN      NOT NULL DEFAULT FALSE,
    recorded_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),

    UNIQUE (student_id, class_name, subject),
    CONSTRAINT valid_entry CHECK (entry_score IS NULL OR (entry_score >= 0 AND entry_score <= 100)),
    CONSTRAINT valid_exit  CHECK (exit_score IS NULL OR (exit_score >= 0 AND exit_score <= 100))
);

CREATE INDEX IF NOT EXISTS idx_score_records_grade ON score_records(grade, id);
CREATE INDEX IF NOT EXISTS idx_score_records_class ON score_records(class_name, id);
CREATE INDEX IF NOT EXISTS idx_score_records_recorded ON score_records(recorded_at);

CREATE TABLE IF NOT EXISTS teaching_assignments (
    teacher_id   VARCHAR(64)  NOT NULL,
    class_name   VARCHAR(64)  NOT NULL,
    subject      VARCHAR(64)  NOT NULL,
    teacher_name VARCHAR(255) NOT NULL DEFAULT '',

    PRIMARY KEY (teacher_id, class_name, subject)
);

CREATE INDEX IF NOT EXISTS idx_teaching_assignments_class ON teaching_assignments(class_name);
`

const migration001Down = `
DROP TABLE IF EXISTS teaching_assignments;
DROP TABLE IF EXISTS score_records;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS warning_events (
    seq        BIGSERIAL UNIQUE,
    id         VARCHAR(128) PRIMARY KEY,
    severity   VARCHAR(16)  NOT NULL,
    category   VARCHAR(64)  NOT NULL,
    scope      VARCHAR(16)  NOT NULL DEFAULT '',
    scope_ref  VARCHAR(128) NOT NULL DEFAULT '',
    message    TEXT         NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_warning_events_scope ON warning_events(scope, scope_ref, created_at, seq);
CREATE INDEX IF NOT EXISTS idx_warning_events_created ON warning_events(created_at, seq);
`

const migration002Down = `
DROP TABLE IF EXISTS warning_events;
`

const migration003Up = `
-- Stored analysis rows, partitioned by dimension and report type.
CREATE TABLE IF NOT EXISTS analysis_results (
    seq          BIGSERIAL PRIMARY KEY,
    run_id       VARCHAR(64)  NOT NULL,
    analysis_key VARCHAR(255) NOT NULL,
    dimension    VARCHAR(16)  NOT NULL,
    report_type  VARCHAR(16)  NOT NULL,
    subject_ref  VARCHAR(255) NOT NULL,
    payload      JSONB        NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL,

    CONSTRAINT valid_dimension CHECK (dimension IN ('class', 'teacher', 'student')),
    CONSTRAINT valid_report_type CHECK (report_type IN ('growth', 'balance', 'risk'))
);

CREATE INDEX IF NOT EXISTS idx_analysis_results_key ON analysis_results(analysis_key, dimension, report_type, seq);
CREATE INDEX IF NOT EXISTS idx_analysis_results_dimension ON analysis_results(dimension, created_at DESC);

CREATE TABLE IF NOT EXISTS analysis_runs (
    id           VARCHAR(64) PRIMARY KEY,
    analysis_key VARCHAR(255) NOT NULL,
    key_json     JSONB       NOT NULL,
    status       VARCHAR(16) NOT NULL,
    stage        VARCHAR(32) NOT NULL DEFAULT '',
    progress     INTEGER     NOT NULL DEFAULT 0,
    errors       JSONB       NOT NULL DEFAULT '[]'::jsonb,
    warnings     JSONB       NOT NULL DEFAULT '[]'::jsonb,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ,

    CONSTRAINT valid_status CHECK (status IN ('pending', 'running', 'succeeded', 'failed')),
    CONSTRAINT valid_progress CHECK (progress >= 0 AND progress <= 100)
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_started ON analysis_runs(started_at DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS analysis_runs;
DROP TABLE IF EXISTS analysis_results;
`
