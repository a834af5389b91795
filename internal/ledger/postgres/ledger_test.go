package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alerislife/welcome-home/internal/ledger"
	"github.com/alerislife/welcome-home/internal/pipeline"
)

func TestSchemaStatements(t *testing.T) {
	t.Parallel()

	joined := strings.Join(schemaStatements, "\n")
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS export_runs",
		"CREATE TABLE IF NOT EXISTS export_unit_outcomes",
		"ON DELETE CASCADE",
		"UNIQUE (run_id, table_name, stage)",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("schema missing %q", want)
		}
	}
	if !strings.Contains(upsertOutcomeSQL, "ON CONFLICT (run_id, table_name, stage) DO UPDATE") {
		t.Errorf("outcome insert must upsert: %s", upsertOutcomeSQL)
	}
}

func TestOutcomeArgs(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 10, 18, 7, 0, 0, 0, time.FixedZone("EDT", -4*3600))
	args, err := outcomeArgs("run-1", pipeline.UnitOutcome{
		Table:    "Residents",
		Stage:    pipeline.StageLoad,
		Status:   pipeline.StatusFailure,
		Kind:     pipeline.KindLoad,
		Error:    "copy failed",
		Artifact: &pipeline.Artifact{Key: "wh/residents/20261018T110000Z.csv"},
		Started:  started,
	})
	if err != nil {
		t.Fatalf("outcomeArgs: %v", err)
	}
	if n := strings.Count(upsertOutcomeSQL, "$"); len(args) != n {
		t.Fatalf("got %d args for %d placeholders", len(args), n)
	}
	if args[4] != "LoadError" || args[5] != "copy failed" {
		t.Errorf("unexpected kind/error args: %v %v", args[4], args[5])
	}
	if s, ok := args[7].(string); !ok || !strings.Contains(s, `"key":"wh/residents/20261018T110000Z.csv"`) {
		t.Errorf("artifact arg = %#v", args[7])
	}
	if ts, ok := args[8].(*time.Time); !ok || ts.Location() != time.UTC || !ts.Equal(started) {
		t.Errorf("started arg = %#v", args[8])
	}
	if ts := args[9].(*time.Time); ts != nil {
		t.Errorf("zero finished should bind NULL, got %v", ts)
	}

	args, _ = outcomeArgs("run-1", pipeline.UnitOutcome{Table: "Residents", Stage: pipeline.StageExtract})
	if args[7] != nil {
		t.Errorf("missing artifact should bind NULL, got %#v", args[7])
	}
}

func TestNew_RequiresDSN(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), ledger.Config{Kind: "postgres"}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

// TestLedger_Postgres runs against a live database when LEDGER_TEST_POSTGRES_DSN is set.
func TestLedger_Postgres(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	l, err := New(ctx, ledger.Config{Kind: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	id := "test-" + time.Now().UTC().Format("20060102T150405.000000000")
	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := l.StartRun(ctx, ledger.Run{ID: id, Marker: now, Started: now, Selection: pipeline.Selection{Tables: []string{"Activities"}, StepType: pipeline.StepSnowflakeOnly}}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	o := pipeline.UnitOutcome{Table: "Activities", Stage: pipeline.StageLoad, Status: pipeline.StatusSuccess, Started: now, Finished: now.Add(time.Second)}
	if err := l.RecordOutcome(ctx, id, o); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := l.FinishRun(ctx, id, pipeline.RunAllSuccess, now.Add(time.Minute)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := l.Outcomes(ctx, id)
	if err != nil {
		t.Fatalf("Outcomes: %v", err)
	}
	if len(got) != 1 || got[0].Status != pipeline.StatusSuccess || !got[0].Finished.Equal(o.Finished) {
		t.Fatalf("unexpected outcomes %+v", got)
	}
}
