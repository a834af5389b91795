package output

import (
	"time"

	"github.com/fatih/color"

	"github.com/alerislife/welcome-home/internal/pipeline"
)

func init() {
	color.NoColor = true
}

var testStart = time.Date(2026, 10, 18, 11, 0, 0, 0, time.UTC)

func outcome(table string, stage pipeline.Stage, status pipeline.Status, errMsg string) pipeline.UnitOutcome {
	o := pipeline.UnitOutcome{
		Table:    table,
		Stage:    stage,
		Status:   status,
		Error:    errMsg,
		LogRef:   "logs/run-1/" + table + "." + string(stage) + ".log",
		Started:  testStart,
		Finished: testStart.Add(1500 * time.Millisecond),
	}
	if status == pipeline.StatusBlocked {
		o.Kind = pipeline.KindMissingArtifact
		o.Started, o.Finished = time.Time{}, time.Time{}
	}
	return o
}

// prospectsFailedRun is the run where only Prospects' extract failed.
func prospectsFailedRun() pipeline.RunOutcome {
	outcomes := []pipeline.UnitOutcome{
		outcome("Prospects", pipeline.StageExtract, pipeline.StatusFailure, "extract Prospects: fetch: page 1: 502 Bad Gateway"),
		outcome("Prospects", pipeline.StageLoad, pipeline.StatusBlocked, "no staging artifact for table Prospects: extract_stage failed in this run"),
	}
	for _, table := range []string{"Residents", "Activities", "DepositTransactions"} {
		ex := outcome(table, pipeline.StageExtract, pipeline.StatusSuccess, "")
		ex.Artifact = &pipeline.Artifact{Table: table, Records: 42}
		outcomes = append(outcomes, ex, outcome(table, pipeline.StageLoad, pipeline.StatusSuccess, ""))
	}
	return pipeline.RunOutcome{
		RunID:     "run-1",
		Marker:    testStart,
		Selection: pipeline.Selection{Tables: []string{"Prospects", "Residents", "Activities", "DepositTransactions"}, StepType: pipeline.StepBoth},
		Status:    pipeline.Aggregate(outcomes),
		Outcomes:  outcomes,
	}
}
