package output

import (
	"github.com/alerislife/welcome-home/internal/pipeline"
)

// Event types written to NDJSON streams, in emission order.
const (
	EventRunStarted  = "run.started"
	EventUnitStarted = "unit.started"
	EventUnitResult  = "unit.result"
	EventRunFinished = "run.finished"
)

// Event is a lifecycle record for NDJSON streaming output.
//
// JSON (aggregate) mode ignores events and writes the final
// pipeline.RunOutcome instead.
type Event struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
	*pipeline.UnitOutcome

	Units    int                  `json:"units,omitempty"`
	Tables   []string             `json:"tables,omitempty"`
	StepType pipeline.StepType    `json:"step_type,omitempty"`
	Status   pipeline.RunStatus   `json:"run_status,omitempty"`
	ExitCode int                  `json:"exit_code,omitempty"`
	Retry    []pipeline.Selection `json:"retry,omitempty"`
}

func eventFromOutcome(o pipeline.UnitOutcome) Event {
	return Event{Type: EventUnitResult, UnitOutcome: &o}
}

// streamRecord maps a sink input to the event it streams as, if any.
func streamRecord(v any) (Event, bool) {
	switch t := v.(type) {
	case Event:
		return t, true
	case pipeline.UnitOutcome:
		return eventFromOutcome(t), true
	default:
		return Event{}, false
	}
}

// aggregate collects what JSON mode writes on Close: the run outcome when
// one was written, otherwise the unit outcomes seen so far.
type aggregate struct {
	outcomes []pipeline.UnitOutcome
	run      *pipeline.RunOutcome
}

func (a *aggregate) add(v any) {
	switch t := v.(type) {
	case pipeline.UnitOutcome:
		a.outcomes = append(a.outcomes, t)
	case pipeline.RunOutcome:
		a.run = &t
	}
}

func (a *aggregate) value() any {
	if a.run != nil {
		return a.run
	}
	if a.outcomes == nil {
		return []pipeline.UnitOutcome{}
	}
	return a.outcomes
}
