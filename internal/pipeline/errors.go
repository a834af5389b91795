package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind names the error taxonomy entry an outcome failed with.
type ErrorKind string

const (
	KindSelection       ErrorKind = "SelectionError"
	KindExtract         ErrorKind = "ExtractError"
	KindMissingArtifact ErrorKind = "MissingArtifactError"
	KindLoad            ErrorKind = "LoadError"
	KindInternal        ErrorKind = "InternalError"
)

// SelectionError is returned when the operator asked for tables the registry
// does not know. Nothing is dispatched when it occurs.
type SelectionError struct {
	Unknown []string
	Valid   []string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("unknown table(s): %s (valid tables: %s)", strings.Join(e.Unknown, ", "), strings.Join(e.Valid, ", "))
}

// ExtractError is an API fetch or staging write failure for one table.
type ExtractError struct {
	Table string
	// Op is "fetch" or "stage".
	Op  string
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %s: %v", e.Table, e.Op, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// MissingArtifactError means a load had no published artifact to read.
type MissingArtifactError struct {
	Table string
	// Reason is set when the artifact is missing because this run's extract failed.
	Reason string
	Err    error
}

func (e *MissingArtifactError) Error() string {
	msg := fmt.Sprintf("no staging artifact for table %s", e.Table)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *MissingArtifactError) Unwrap() error { return e.Err }

// LoadError is a warehouse failure for one table.
type LoadError struct {
	Table string
	// Op is "template", "connect", "replace" or "copy".
	Op  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s: %v", e.Table, e.Op, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// KindOf classifies err into the error taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var sel *SelectionError
	var ext *ExtractError
	var miss *MissingArtifactError
	var load *LoadError
	switch {
	case errors.As(err, &sel):
		return KindSelection
	case errors.As(err, &miss):
		return KindMissingArtifact
	case errors.As(err, &ext):
		return KindExtract
	case errors.As(err, &load):
		return KindLoad
	default:
		return KindInternal
	}
}
