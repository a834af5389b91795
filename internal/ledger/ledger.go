// Package ledger records every export run and unit outcome so operators can
// see history and derive narrowed re-runs after a partial failure.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alerislife/welcome-home/internal/pipeline"
)

// ErrRunNotFound is returned when a run id has no ledger entry.
var ErrRunNotFound = errors.New("ledger: run not found")

// Config selects a ledger backend.
type Config struct {
	Kind string
	DSN  string
}

// Run is one ledger entry. Status is empty until FinishRun.
type Run struct {
	ID        string             `json:"run_id"`
	Marker    time.Time          `json:"marker"`
	Selection pipeline.Selection `json:"selection"`
	Status    pipeline.RunStatus `json:"status,omitempty"`
	Started   time.Time          `json:"started"`
	Finished  time.Time          `json:"finished,omitzero"`
}

// Ledger persists runs and their unit outcomes.
//
// RecordOutcome is called concurrently from unit goroutines; backends must be
// safe for that. Recording the same (run, table, stage) twice replaces the
// earlier row.
type Ledger interface {
	StartRun(ctx context.Context, run Run) error
	RecordOutcome(ctx context.Context, runID string, o pipeline.UnitOutcome) error
	FinishRun(ctx context.Context, runID string, status pipeline.RunStatus, finished time.Time) error

	// Runs returns the most recent runs first. limit <= 0 means all.
	Runs(ctx context.Context, limit int) ([]Run, error)
	// Outcomes returns a run's outcomes in the order they were recorded.
	Outcomes(ctx context.Context, runID string) ([]pipeline.UnitOutcome, error)
	// Prune deletes runs started before the cutoff and returns how many.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close()
}

type factory func(ctx context.Context, cfg Config) (Ledger, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available under kind. Backends call it from
// init(); registering a kind twice panics.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("ledger: Register called with empty kind")
	}
	if f == nil {
		panic("ledger: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("ledger: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open constructs the ledger for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Ledger, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("ledger: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported ledger kind %q (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// JoinTables and SplitTables convert a table selection to and from its
// stored column value.
func JoinTables(tables []string) string {
	return strings.Join(tables, ",")
}

func SplitTables(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// EncodeArtifact returns the stored form of an outcome's artifact, or nil.
func EncodeArtifact(a *pipeline.Artifact) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func DecodeArtifact(b []byte) (*pipeline.Artifact, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var a pipeline.Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return &a, nil
}
