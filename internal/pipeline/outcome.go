package pipeline

import "time"

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	// StatusBlocked marks a load that was never dispatched because the same
	// run's extract for its table failed.
	StatusBlocked Status = "BLOCKED"
)

// UnitOutcome is the terminal result of one WorkUnit.
type UnitOutcome struct {
	Table    string    `json:"table"`
	Stage    Stage     `json:"stage"`
	Status   Status    `json:"status"`
	Error    string    `json:"error,omitempty"`
	Kind     ErrorKind `json:"error_kind,omitempty"`
	LogRef   string    `json:"log_ref,omitempty"`
	Artifact *Artifact `json:"artifact,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// Err is the typed failure, when there is one. It is not serialized.
	Err error `json:"-"`
}

func (o UnitOutcome) Unit() WorkUnit {
	return WorkUnit{Table: o.Table, Stage: o.Stage}
}

func (o UnitOutcome) Duration() time.Duration {
	if o.Started.IsZero() || o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

// RunStatus is the aggregate status of a run.
type RunStatus string

const (
	RunAllSuccess     RunStatus = "all_success"
	RunPartialFailure RunStatus = "partial_failure"
	RunAllFailure     RunStatus = "all_failure"
)

// RunOutcome aggregates every UnitOutcome of a run.
type RunOutcome struct {
	RunID     string        `json:"run_id"`
	Marker    time.Time     `json:"marker"`
	Selection Selection     `json:"selection"`
	Status    RunStatus     `json:"status"`
	Outcomes  []UnitOutcome `json:"outcomes"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
}

// Aggregate computes the run status over a set of outcomes.
//
// A blocked unit did not succeed, so it counts against all_success and
// toward all_failure the same way a failed unit does. An empty set is
// all_success.
func Aggregate(outcomes []UnitOutcome) RunStatus {
	succeeded := 0
	for _, o := range outcomes {
		if o.Status == StatusSuccess {
			succeeded++
		}
	}
	switch {
	case succeeded == len(outcomes):
		return RunAllSuccess
	case succeeded == 0:
		return RunAllFailure
	default:
		return RunPartialFailure
	}
}

// Counts returns the number of outcomes per status.
func Counts(outcomes []UnitOutcome) map[Status]int {
	out := map[Status]int{}
	for _, o := range outcomes {
		out[o.Status]++
	}
	return out
}
