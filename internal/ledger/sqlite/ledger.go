// Package sqlite is the default run ledger: a single local database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alerislife/welcome-home/internal/ledger"
	"github.com/alerislife/welcome-home/internal/pipeline"
)

func init() {
	ledger.Register("sqlite", New)
}

// Times are stored as fixed-width UTC text so they sort lexically; SQLite
// has no timestamp type.
const schema = `
CREATE TABLE IF NOT EXISTS export_runs (
	run_id      TEXT PRIMARY KEY,
	marker      TEXT NOT NULL,
	tables      TEXT NOT NULL,
	step_type   TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE TABLE IF NOT EXISTS export_unit_outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	table_name  TEXT NOT NULL,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	log_ref     TEXT NOT NULL DEFAULT '',
	artifact    TEXT,
	started_at  TEXT,
	finished_at TEXT,
	UNIQUE (run_id, table_name, stage)
);
CREATE INDEX IF NOT EXISTS export_runs_started_idx ON export_runs (started_at);
`

type Ledger struct {
	db *sql.DB
}

// New opens (creating if needed) the database at cfg.DSN.
func New(ctx context.Context, cfg ledger.Config) (ledger.Ledger, error) {
	dsn := cfg.DSN
	if dsn == "" {
		return nil, fmt.Errorf("sqlite ledger: dsn is required")
	}
	if dir := filepath.Dir(dsn); dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite ledger: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Unit goroutines record concurrently; one connection serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ledger: init schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() { _ = l.db.Close() }

func (l *Ledger) StartRun(ctx context.Context, run ledger.Run) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO export_runs (run_id, marker, tables, step_type, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.Marker), ledger.JoinTables(run.Selection.Tables), string(run.Selection.StepType), formatTime(run.Started))
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	return nil
}

func (l *Ledger) RecordOutcome(ctx context.Context, runID string, o pipeline.UnitOutcome) error {
	artifact, err := ledger.EncodeArtifact(o.Artifact)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
INSERT INTO export_unit_outcomes
	(run_id, table_name, stage, status, error_kind, error, log_ref, artifact, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, table_name, stage) DO UPDATE SET
	status = excluded.status,
	error_kind = excluded.error_kind,
	error = excluded.error,
	log_ref = excluded.log_ref,
	artifact = excluded.artifact,
	started_at = excluded.started_at,
	finished_at = excluded.finished_at`,
		runID, o.Table, string(o.Stage), string(o.Status), string(o.Kind), o.Error, o.LogRef,
		nullString(string(artifact)), nullTime(o.Started), nullTime(o.Finished))
	if err != nil {
		return fmt.Errorf("record %s/%s: %w", o.Table, o.Stage, err)
	}
	return nil
}

func (l *Ledger) FinishRun(ctx context.Context, runID string, status pipeline.RunStatus, finished time.Time) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE export_runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		string(status), formatTime(finished), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ledger.ErrRunNotFound)
	}
	return nil
}

func (l *Ledger) Runs(ctx context.Context, limit int) ([]ledger.Run, error) {
	q := `SELECT run_id, marker, tables, step_type, status, started_at, finished_at
FROM export_runs ORDER BY started_at DESC, run_id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Run
	for rows.Next() {
		var (
			r                       ledger.Run
			marker, tables, started string
			stepType, status        string
			finished                sql.NullString
		)
		if err := rows.Scan(&r.ID, &marker, &tables, &stepType, &status, &started, &finished); err != nil {
			return nil, err
		}
		r.Selection = pipeline.Selection{Tables: ledger.SplitTables(tables), StepType: pipeline.StepType(stepType)}
		r.Status = pipeline.RunStatus(status)
		if r.Marker, err = parseSQLiteTime(marker); err != nil {
			return nil, fmt.Errorf("run %s marker: %w", r.ID, err)
		}
		if r.Started, err = parseSQLiteTime(started); err != nil {
			return nil, fmt.Errorf("run %s started_at: %w", r.ID, err)
		}
		if finished.Valid {
			if r.Finished, err = parseSQLiteTime(finished.String); err != nil {
				return nil, fmt.Errorf("run %s finished_at: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *Ledger) Outcomes(ctx context.Context, runID string) ([]pipeline.UnitOutcome, error) {
	var exists int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM export_runs WHERE run_id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("outcomes for %s: %w", runID, ledger.ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT table_name, stage, status, error_kind, error, log_ref, artifact, started_at, finished_at
FROM export_unit_outcomes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.UnitOutcome
	for rows.Next() {
		var (
			o                   pipeline.UnitOutcome
			stage, status, kind string
			artifact            sql.NullString
			started, finished   sql.NullString
		)
		if err := rows.Scan(&o.Table, &stage, &status, &kind, &o.Error, &o.LogRef, &artifact, &started, &finished); err != nil {
			return nil, err
		}
		o.Stage, o.Status, o.Kind = pipeline.Stage(stage), pipeline.Status(status), pipeline.ErrorKind(kind)
		if artifact.Valid {
			if o.Artifact, err = ledger.DecodeArtifact([]byte(artifact.String)); err != nil {
				return nil, err
			}
		}
		if started.Valid {
			if o.Started, err = parseSQLiteTime(started.String); err != nil {
				return nil, err
			}
		}
		if finished.Valid {
			if o.Finished, err = parseSQLiteTime(finished.String); err != nil {
				return nil, err
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := formatTime(before)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM export_unit_outcomes WHERE run_id IN (SELECT run_id FROM export_runs WHERE started_at < ?)`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM export_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
