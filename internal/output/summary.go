package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/alerislife/welcome-home/internal/pipeline"
)

// Summarize renders the end-of-run report: one line per unit with its
// status and log reference, then the aggregate status. It reads the outcome
// only.
func Summarize(run pipeline.RunOutcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Welcome Home export run %s", orDash(run.RunID))
	if !run.Marker.IsZero() {
		fmt.Fprintf(&b, " (marker %s)", run.Marker.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")

	tableWidth, stageWidth := len("TABLE"), len("STAGE")
	for _, o := range run.Outcomes {
		tableWidth = max(tableWidth, len(o.Table))
		stageWidth = max(stageWidth, len(o.Stage))
	}

	fmt.Fprintf(&b, "  %-*s  %-*s  %-7s  %-9s  %s\n", tableWidth, "TABLE", stageWidth, "STAGE", "STATUS", "DURATION", "LOG")
	for _, o := range run.Outcomes {
		dur := "-"
		if d := o.Duration(); d > 0 {
			dur = d.Truncate(time.Millisecond).String()
		}
		fmt.Fprintf(&b, "  %-*s  %-*s  %-7s  %-9s  %s\n",
			tableWidth, o.Table, stageWidth, o.Stage, o.Status, dur, orDash(o.LogRef))
		if o.Error != "" {
			fmt.Fprintf(&b, "  %-*s  -> %s\n", tableWidth, "", o.Error)
		}
	}

	counts := pipeline.Counts(run.Outcomes)
	status := run.Status
	if status == "" {
		status = pipeline.Aggregate(run.Outcomes)
	}
	fmt.Fprintf(&b, "Result: %s (%d units: %d succeeded, %d failed, %d blocked)\n",
		status, len(run.Outcomes),
		counts[pipeline.StatusSuccess], counts[pipeline.StatusFailure], counts[pipeline.StatusBlocked])
	return b.String()
}

// RetryHints renders the operator invocations that re-run the given
// selections, or "" when there is nothing to retry.
func RetryHints(plan []pipeline.Selection) string {
	if len(plan) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("To retry only the units that did not succeed:\n")
	for _, sel := range plan {
		fmt.Fprintf(&b, "  %s\n", RetryCommand(sel))
	}
	return b.String()
}

// RetryCommand is the CLI invocation for one selection.
func RetryCommand(sel pipeline.Selection) string {
	return fmt.Sprintf("whexport run --tables %s --step-type %s", sel.TablesArg(), sel.StepType)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
