// Package postgres stores the run ledger in a shared Postgres database, for
// deployments where runs execute on ephemeral CI runners.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alerislife/welcome-home/internal/ledger"
	"github.com/alerislife/welcome-home/internal/pipeline"
)

func init() {
	ledger.Register("postgres", New)
}

// schemaStatements are applied in order when the ledger opens.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS export_runs (
	run_id      TEXT PRIMARY KEY,
	marker      TIMESTAMPTZ NOT NULL,
	tables      TEXT NOT NULL,
	step_type   TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS export_unit_outcomes (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES export_runs (run_id) ON DELETE CASCADE,
	table_name  TEXT NOT NULL,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	log_ref     TEXT NOT NULL DEFAULT '',
	artifact    JSONB,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	UNIQUE (run_id, table_name, stage)
)`,
	`CREATE INDEX IF NOT EXISTS export_runs_started_idx ON export_runs (started_at)`,
}

const upsertOutcomeSQL = `
INSERT INTO export_unit_outcomes
	(run_id, table_name, stage, status, error_kind, error, log_ref, artifact, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (run_id, table_name, stage) DO UPDATE SET
	status = EXCLUDED.status,
	error_kind = EXCLUDED.error_kind,
	error = EXCLUDED.error,
	log_ref = EXCLUDED.log_ref,
	artifact = EXCLUDED.artifact,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at`

type Ledger struct {
	pool *pgxpool.Pool
}

// New connects to cfg.DSN and ensures the ledger tables exist.
func New(ctx context.Context, cfg ledger.Config) (ledger.Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres ledger: dsn is required (LEDGER_DSN)")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ledger: init schema: %w", err)
		}
	}
	return &Ledger{pool: pool}, nil
}

func (l *Ledger) Close() { l.pool.Close() }

func (l *Ledger) StartRun(ctx context.Context, run ledger.Run) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO export_runs (run_id, marker, tables, step_type, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Marker.UTC(), ledger.JoinTables(run.Selection.Tables), string(run.Selection.StepType), run.Started.UTC())
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	return nil
}

func (l *Ledger) RecordOutcome(ctx context.Context, runID string, o pipeline.UnitOutcome) error {
	args, err := outcomeArgs(runID, o)
	if err != nil {
		return err
	}
	if _, err := l.pool.Exec(ctx, upsertOutcomeSQL, args...); err != nil {
		return fmt.Errorf("record %s/%s: %w", o.Table, o.Stage, err)
	}
	return nil
}

// outcomeArgs binds o to upsertOutcomeSQL's placeholders.
func outcomeArgs(runID string, o pipeline.UnitOutcome) ([]any, error) {
	b, err := ledger.EncodeArtifact(o.Artifact)
	if err != nil {
		return nil, err
	}
	var artifact any
	if b != nil {
		artifact = string(b)
	}
	return []any{
		runID, o.Table, string(o.Stage), string(o.Status), string(o.Kind), o.Error, o.LogRef,
		artifact, nullTime(o.Started), nullTime(o.Finished),
	}, nil
}

func (l *Ledger) FinishRun(ctx context.Context, runID string, status pipeline.RunStatus, finished time.Time) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE export_runs SET status = $1, finished_at = $2 WHERE run_id = $3`,
		string(status), finished.UTC(), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ledger.ErrRunNotFound)
	}
	return nil
}

func (l *Ledger) Runs(ctx context.Context, limit int) ([]ledger.Run, error) {
	q := `SELECT run_id, marker, tables, step_type, status, started_at, finished_at
FROM export_runs ORDER BY started_at DESC, run_id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Run
	for rows.Next() {
		var (
			r                        ledger.Run
			tables, stepType, status string
			finished                 *time.Time
		)
		if err := rows.Scan(&r.ID, &r.Marker, &tables, &stepType, &status, &r.Started, &finished); err != nil {
			return nil, err
		}
		r.Selection = pipeline.Selection{Tables: ledger.SplitTables(tables), StepType: pipeline.StepType(stepType)}
		r.Status = pipeline.RunStatus(status)
		r.Marker, r.Started = r.Marker.UTC(), r.Started.UTC()
		if finished != nil {
			r.Finished = finished.UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *Ledger) Outcomes(ctx context.Context, runID string) ([]pipeline.UnitOutcome, error) {
	var exists int
	err := l.pool.QueryRow(ctx, `SELECT 1 FROM export_runs WHERE run_id = $1`, runID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("outcomes for %s: %w", runID, ledger.ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := l.pool.Query(ctx, `
SELECT table_name, stage, status, error_kind, error, log_ref, artifact, started_at, finished_at
FROM export_unit_outcomes WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.UnitOutcome
	for rows.Next() {
		var (
			o                   pipeline.UnitOutcome
			stage, status, kind string
			artifact            []byte
			started, finished   *time.Time
		)
		if err := rows.Scan(&o.Table, &stage, &status, &kind, &o.Error, &o.LogRef, &artifact, &started, &finished); err != nil {
			return nil, err
		}
		o.Stage, o.Status, o.Kind = pipeline.Stage(stage), pipeline.Status(status), pipeline.ErrorKind(kind)
		if o.Artifact, err = ledger.DecodeArtifact(artifact); err != nil {
			return nil, err
		}
		if started != nil {
			o.Started = started.UTC()
		}
		if finished != nil {
			o.Finished = finished.UTC()
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM export_runs WHERE started_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
