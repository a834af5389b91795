package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alerislife/welcome-home/internal/ledger"
	"github.com/alerislife/welcome-home/internal/pipeline"
)

var day = time.Date(2026, 10, 18, 11, 0, 0, 0, time.UTC)

func openTestLedger(t *testing.T) ledger.Ledger {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "state", "ledger.db")
	l, err := ledger.Open(context.Background(), ledger.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func startRun(t *testing.T, l ledger.Ledger, id string, started time.Time) {
	t.Helper()
	err := l.StartRun(context.Background(), ledger.Run{
		ID:        id,
		Marker:    started,
		Selection: pipeline.Selection{Tables: []string{"Prospects", "Activities"}, StepType: pipeline.StepBoth},
		Started:   started,
	})
	if err != nil {
		t.Fatalf("StartRun(%s): %v", id, err)
	}
}

func TestLedger_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	startRun(t, l, "run-1", day)

	art := &pipeline.Artifact{Table: "Activities", Key: "wh/activities/20261018T110000Z.csv", Marker: day, Records: 12, Bytes: 640}
	outcomes := []pipeline.UnitOutcome{
		{Table: "Prospects", Stage: pipeline.StageExtract, Status: pipeline.StatusFailure, Kind: pipeline.KindExtract, Error: "fetch: 502", LogRef: "logs/run-1/Prospects.extract_stage.log", Started: day, Finished: day.Add(time.Second)},
		{Table: "Activities", Stage: pipeline.StageExtract, Status: pipeline.StatusSuccess, Artifact: art, Started: day, Finished: day.Add(2500 * time.Millisecond)},
		{Table: "Prospects", Stage: pipeline.StageLoad, Status: pipeline.StatusBlocked, Kind: pipeline.KindMissingArtifact, Error: "no staging artifact"},
	}
	for _, o := range outcomes {
		if err := l.RecordOutcome(ctx, "run-1", o); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	if err := l.FinishRun(ctx, "run-1", pipeline.RunPartialFailure, day.Add(time.Minute)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := l.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.ID != "run-1" || r.Status != pipeline.RunPartialFailure || r.Selection.StepType != pipeline.StepBoth {
		t.Errorf("unexpected run %+v", r)
	}
	if len(r.Selection.Tables) != 2 || r.Selection.Tables[1] != "Activities" {
		t.Errorf("unexpected tables %v", r.Selection.Tables)
	}
	if !r.Marker.Equal(day) || !r.Finished.Equal(day.Add(time.Minute)) {
		t.Errorf("unexpected times marker=%s finished=%s", r.Marker, r.Finished)
	}

	got, err := l.Outcomes(ctx, "run-1")
	if err != nil {
		t.Fatalf("Outcomes: %v", err)
	}
	if len(got) != len(outcomes) {
		t.Fatalf("expected %d outcomes, got %d", len(outcomes), len(got))
	}
	for i, want := range outcomes {
		g := got[i]
		if g.Table != want.Table || g.Stage != want.Stage || g.Status != want.Status || g.Kind != want.Kind || g.Error != want.Error || g.LogRef != want.LogRef {
			t.Errorf("outcome %d = %+v, want %+v", i, g, want)
		}
		if !g.Started.Equal(want.Started) || !g.Finished.Equal(want.Finished) {
			t.Errorf("outcome %d times = %s..%s", i, g.Started, g.Finished)
		}
	}
	if got[1].Artifact == nil || got[1].Artifact.Key != art.Key || got[1].Artifact.Records != 12 {
		t.Errorf("artifact not restored: %+v", got[1].Artifact)
	}
	if got[2].Artifact != nil {
		t.Errorf("blocked outcome should have no artifact")
	}
}

func TestLedger_RecordOutcomeReplaces(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	startRun(t, l, "run-1", day)

	o := pipeline.UnitOutcome{Table: "Activities", Stage: pipeline.StageLoad, Status: pipeline.StatusFailure, Error: "copy"}
	_ = l.RecordOutcome(ctx, "run-1", o)
	o.Status, o.Error = pipeline.StatusSuccess, ""
	if err := l.RecordOutcome(ctx, "run-1", o); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	got, _ := l.Outcomes(ctx, "run-1")
	if len(got) != 1 || got[0].Status != pipeline.StatusSuccess || got[0].Error != "" {
		t.Fatalf("expected a single replaced outcome, got %+v", got)
	}
}

func TestLedger_RunsNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	startRun(t, l, "run-a", day.Add(-48*time.Hour))
	startRun(t, l, "run-b", day.Add(500*time.Millisecond))
	startRun(t, l, "run-c", day)

	runs, err := l.Runs(ctx, 2)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" || runs[1].ID != "run-c" {
		t.Fatalf("unexpected order: %+v", runs)
	}
	if runs[0].Status != "" || !runs[0].Finished.IsZero() {
		t.Errorf("unfinished run should have no status: %+v", runs[0])
	}
}

func TestLedger_UnknownRun(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	if _, err := l.Outcomes(ctx, "missing"); !errors.Is(err, ledger.ErrRunNotFound) {
		t.Errorf("Outcomes err = %v, want ErrRunNotFound", err)
	}
	if err := l.FinishRun(ctx, "missing", pipeline.RunAllSuccess, day); !errors.Is(err, ledger.ErrRunNotFound) {
		t.Errorf("FinishRun err = %v, want ErrRunNotFound", err)
	}
}

func TestLedger_DuplicateStartFails(t *testing.T) {
	l := openTestLedger(t)
	startRun(t, l, "run-1", day)
	if err := l.StartRun(context.Background(), ledger.Run{ID: "run-1", Marker: day, Started: day}); err == nil {
		t.Fatal("expected duplicate run id to fail")
	}
}

func TestLedger_Prune(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	startRun(t, l, "old", day.Add(-8*24*time.Hour))
	startRun(t, l, "new", day)
	_ = l.RecordOutcome(ctx, "old", pipeline.UnitOutcome{Table: "Activities", Stage: pipeline.StageLoad, Status: pipeline.StatusSuccess})

	n, err := l.Prune(ctx, day.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d runs, want 1", n)
	}
	runs, _ := l.Runs(ctx, 0)
	if len(runs) != 1 || runs[0].ID != "new" {
		t.Errorf("unexpected remaining runs %+v", runs)
	}
	if _, err := l.Outcomes(ctx, "old"); !errors.Is(err, ledger.ErrRunNotFound) {
		t.Errorf("expected pruned run to be gone, got %v", err)
	}
}

func TestNew_RequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), ledger.Config{Kind: "sqlite"}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestParseSQLiteTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2026-10-18T11:00:00.000000000Z", want: day},
		{in: "2026-10-18T11:00:00Z", want: day},
		{in: "2026-10-18 11:00:00", want: day},
		{in: "", wantErr: true},
		{in: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseSQLiteTime(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseSQLiteTime(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("parseSQLiteTime(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
