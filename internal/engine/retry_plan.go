package engine

import (
	"sort"

	"github.com/alerislife/welcome-home/internal/pipeline"
	"github.com/alerislife/welcome-home/internal/tables"
)

// RetryPlan derives the operator invocations that re-execute exactly the
// units of outcomes that did not succeed.
//
// A table whose extract and load both need another attempt is retried with
// "both"; a lone failed extract with "api_blob_only"; a lone failed load with
// "snowflake_only", which then reads the latest published artifact. Tables
// appear in registry order. A fully successful run yields no selections.
func RetryPlan(outcomes []pipeline.UnitOutcome) []pipeline.Selection {
	type need struct{ extract, load bool }
	needs := map[string]*need{}
	for _, o := range outcomes {
		if o.Status == pipeline.StatusSuccess {
			continue
		}
		n := needs[o.Table]
		if n == nil {
			n = &need{}
			needs[o.Table] = n
		}
		switch o.Stage {
		case pipeline.StageExtract:
			n.extract = true
		case pipeline.StageLoad:
			n.load = true
		}
	}

	byStep := map[pipeline.StepType][]string{}
	order := tables.Names()
	// Outcomes may name tables the registry no longer has; keep them last.
	var extra []string
	for t := range needs {
		if _, err := tables.Resolve(t); err != nil {
			extra = append(extra, t)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)
	for _, t := range order {
		n := needs[t]
		if n == nil {
			continue
		}
		var step pipeline.StepType
		switch {
		case n.extract && n.load:
			step = pipeline.StepBoth
		case n.extract:
			step = pipeline.StepAPIBlobOnly
		default:
			step = pipeline.StepSnowflakeOnly
		}
		byStep[step] = append(byStep[step], t)
	}

	var plan []pipeline.Selection
	for _, step := range []pipeline.StepType{pipeline.StepBoth, pipeline.StepAPIBlobOnly, pipeline.StepSnowflakeOnly} {
		if ts := byStep[step]; len(ts) > 0 {
			plan = append(plan, pipeline.Selection{Tables: ts, StepType: step})
		}
	}
	return plan
}

// Unrecorded returns a failure outcome for every unit with no outcome in
// recorded, such as the units a killed run never reached. Appending them to
// recorded before RetryPlan makes the plan cover those units too.
func Unrecorded(units []pipeline.WorkUnit, recorded []pipeline.UnitOutcome) []pipeline.UnitOutcome {
	seen := make(map[pipeline.WorkUnit]bool, len(recorded))
	for _, o := range recorded {
		seen[o.Unit()] = true
	}
	var out []pipeline.UnitOutcome
	for _, u := range units {
		if seen[u] {
			continue
		}
		out = append(out, pipeline.UnitOutcome{
			Table:  u.Table,
			Stage:  u.Stage,
			Status: pipeline.StatusFailure,
			Error:  "no outcome recorded",
		})
	}
	return out
}
