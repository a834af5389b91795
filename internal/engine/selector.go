package engine

import (
	"strings"

	"github.com/alerislife/welcome-home/internal/pipeline"
	"github.com/alerislife/welcome-home/internal/tables"
)

// SplitTables flattens repeated and comma-separated table arguments,
// trimming blanks. "Prospects, Residents" and ["Prospects", "Residents"]
// are the same request.
func SplitTables(values ...string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Select resolves an operator request to the work units of a run.
//
// No tables means every registered table. Units are returned in registry
// order, extract before load within a table, without duplicates. Any unknown
// table fails the whole selection with a *pipeline.SelectionError, so nothing
// is dispatched for a partly valid request.
func Select(requested []string, step pipeline.StepType) ([]pipeline.WorkUnit, error) {
	if step == "" {
		step = pipeline.StepBoth
	}
	if _, err := pipeline.ParseStepType(string(step)); err != nil {
		return nil, err
	}

	names := SplitTables(requested...)
	want := make(map[string]bool, len(names))
	var unknown []string
	for _, n := range names {
		if _, err := tables.Resolve(n); err != nil {
			if !want[n] {
				unknown = append(unknown, n)
			}
			want[n] = true
			continue
		}
		want[n] = true
	}
	if len(unknown) > 0 {
		return nil, &pipeline.SelectionError{Unknown: unknown, Valid: tables.Names()}
	}

	var units []pipeline.WorkUnit
	for _, spec := range tables.List() {
		if len(names) > 0 && !want[spec.Name] {
			continue
		}
		for _, st := range step.Stages() {
			units = append(units, pipeline.WorkUnit{Table: spec.Name, Stage: st})
		}
	}
	return units, nil
}

// SelectedTables returns the distinct tables of units in first-seen order.
func SelectedTables(units []pipeline.WorkUnit) []string {
	seen := map[string]bool{}
	var out []string
	for _, u := range units {
		if !seen[u.Table] {
			seen[u.Table] = true
			out = append(out, u.Table)
		}
	}
	return out
}
