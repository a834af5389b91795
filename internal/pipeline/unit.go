package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Stage is one of the two fixed steps every table goes through.
type Stage string

const (
	// StageExtract fetches a table from the source API and publishes it to staging.
	StageExtract Stage = "extract_stage"
	// StageLoad replaces the warehouse table and bulk-copies the staged artifact into it.
	StageLoad Stage = "load"
)

// Stages lists the stages in execution order.
func Stages() []Stage {
	return []Stage{StageExtract, StageLoad}
}

// WorkUnit is one (table, stage) pair to execute in a run.
type WorkUnit struct {
	Table string `json:"table"`
	Stage Stage  `json:"stage"`
}

func (u WorkUnit) String() string {
	return fmt.Sprintf("%s/%s", u.Table, u.Stage)
}

// StepType is the operator-facing stage filter.
type StepType string

const (
	StepBoth          StepType = "both"
	StepAPIBlobOnly   StepType = "api_blob_only"
	StepSnowflakeOnly StepType = "snowflake_only"
)

// ParseStepType normalizes an operator supplied step type. Empty means both.
func ParseStepType(raw string) (StepType, error) {
	switch StepType(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StepBoth:
		return StepBoth, nil
	case StepAPIBlobOnly:
		return StepAPIBlobOnly, nil
	case StepSnowflakeOnly:
		return StepSnowflakeOnly, nil
	default:
		return "", fmt.Errorf("unsupported step type %q (must be one of: both, api_blob_only, snowflake_only)", raw)
	}
}

// Stages returns the stages implied by the step type, in execution order.
func (s StepType) Stages() []Stage {
	switch s {
	case StepAPIBlobOnly:
		return []Stage{StageExtract}
	case StepSnowflakeOnly:
		return []Stage{StageLoad}
	default:
		return Stages()
	}
}

// Includes reports whether the step type selects the given stage.
func (s StepType) Includes(stage Stage) bool {
	for _, st := range s.Stages() {
		if st == stage {
			return true
		}
	}
	return false
}

// Selection is the pair of operator parameters that define a run.
type Selection struct {
	Tables   []string `json:"tables"`
	StepType StepType `json:"step_type"`
}

// TablesArg renders the table list the way the operator passes it (comma-separated).
func (s Selection) TablesArg() string {
	return strings.Join(s.Tables, ",")
}

// Artifact is the descriptor of a published staging artifact for one table.
type Artifact struct {
	Table    string    `json:"table"`
	Key      string    `json:"key"`
	Location string    `json:"location"`
	Marker   time.Time `json:"marker"`
	Bytes    int64     `json:"bytes"`
	Records  int       `json:"records"`
}
