package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alerislife/welcome-home/internal/pipeline"
)

// ReportSink writes a Markdown run report on Close.
type ReportSink struct {
	path     string
	file     *os.File
	mu       sync.Mutex
	run      *pipeline.RunOutcome
	outcomes []pipeline.UnitOutcome
	finished *Event
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}
	return &ReportSink{path: path, file: f}, nil
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t := v.(type) {
	case pipeline.UnitOutcome:
		s.outcomes = append(s.outcomes, t)
	case pipeline.RunOutcome:
		s.run = &t
	case Event:
		if t.Type == EventRunFinished {
			s.finished = &t
		}
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := pipeline.RunOutcome{Outcomes: s.outcomes}
	if s.run != nil {
		run = *s.run
	}
	if run.Status == "" {
		run.Status = pipeline.Aggregate(run.Outcomes)
	}

	content := renderReport(run, s.finished)
	if _, err := s.file.WriteString(content); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

func renderReport(run pipeline.RunOutcome, finished *Event) string {
	var b strings.Builder
	b.WriteString("# Welcome Home Export Report\n\n")

	fmt.Fprintf(&b, "- Run: `%s`\n", orDash(run.RunID))
	if !run.Marker.IsZero() {
		fmt.Fprintf(&b, "- Marker: `%s`\n", run.Marker.UTC().Format(time.RFC3339))
	}
	if len(run.Selection.Tables) > 0 || run.Selection.StepType != "" {
		fmt.Fprintf(&b, "- Selection: tables=`%s` step-type=`%s`\n", orDash(run.Selection.TablesArg()), run.Selection.StepType)
	}
	fmt.Fprintf(&b, "- Status: **%s**\n", run.Status)
	if finished != nil {
		fmt.Fprintf(&b, "- Exit code: %d\n", finished.ExitCode)
	}
	b.WriteString("\n")

	counts := pipeline.Counts(run.Outcomes)
	b.WriteString("## Totals\n\n")
	b.WriteString("| Units | Succeeded | Failed | Blocked |\n")
	b.WriteString("|---:|---:|---:|---:|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d |\n\n", len(run.Outcomes),
		counts[pipeline.StatusSuccess], counts[pipeline.StatusFailure], counts[pipeline.StatusBlocked])

	b.WriteString("## Per-table status\n\n")
	if len(run.Outcomes) == 0 {
		b.WriteString("_No units were selected._\n\n")
	} else {
		b.WriteString("| Table | extract_stage | load | Records |\n")
		b.WriteString("|---|---|---|---:|\n")
		for _, row := range tableRows(run.Outcomes) {
			records := "-"
			if row.records >= 0 {
				records = fmt.Sprintf("%d", row.records)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", row.table, row.cell(pipeline.StageExtract), row.cell(pipeline.StageLoad), records)
		}
		b.WriteString("\n")
	}

	var failed []pipeline.UnitOutcome
	for _, o := range run.Outcomes {
		if o.Status != pipeline.StatusSuccess {
			failed = append(failed, o)
		}
	}
	b.WriteString("## Failures\n\n")
	if len(failed) == 0 {
		b.WriteString("None.\n\n")
	} else {
		for _, o := range failed {
			fmt.Fprintf(&b, "- **%s/%s** %s", o.Table, o.Stage, o.Status)
			if o.Kind != "" {
				fmt.Fprintf(&b, " (%s)", o.Kind)
			}
			if o.Error != "" {
				fmt.Fprintf(&b, ": %s", escapePipes(o.Error))
			}
			if o.LogRef != "" {
				fmt.Fprintf(&b, " `%s`", o.LogRef)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if finished != nil && len(finished.Retry) > 0 {
		b.WriteString("## Retry\n\n```sh\n")
		for _, sel := range finished.Retry {
			b.WriteString(RetryCommand(sel))
			b.WriteString("\n")
		}
		b.WriteString("```\n")
	}
	return b.String()
}

type tableRow struct {
	table   string
	status  map[pipeline.Stage]pipeline.Status
	records int
}

func (r tableRow) cell(stage pipeline.Stage) string {
	st, ok := r.status[stage]
	if !ok {
		return "-"
	}
	switch st {
	case pipeline.StatusSuccess:
		return "✅ " + string(st)
	case pipeline.StatusFailure:
		return "❌ " + string(st)
	case pipeline.StatusBlocked:
		return "⛔ " + string(st)
	}
	return string(st)
}

// tableRows groups outcomes per table, in first-seen order.
func tableRows(outcomes []pipeline.UnitOutcome) []tableRow {
	var rows []tableRow
	index := map[string]int{}
	for _, o := range outcomes {
		i, ok := index[o.Table]
		if !ok {
			i = len(rows)
			index[o.Table] = i
			rows = append(rows, tableRow{table: o.Table, status: map[pipeline.Stage]pipeline.Status{}, records: -1})
		}
		rows[i].status[o.Stage] = o.Status
		if o.Stage == pipeline.StageExtract && o.Artifact != nil {
			rows[i].records = o.Artifact.Records
		}
	}
	return rows
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
