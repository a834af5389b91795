package engine

import (
	"fmt"
	"sync"

	"github.com/alerislife/welcome-home/internal/pipeline"
)

// UnitState is the lifecycle state of a work unit within one run.
type UnitState string

const (
	StatePending   UnitState = "pending"
	StateRunning   UnitState = "running"
	StateSucceeded UnitState = "succeeded"
	StateFailed    UnitState = "failed"
	// StateBlocked is a load never started because its extract failed.
	StateBlocked UnitState = "blocked"
)

func (s UnitState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateBlocked
}

var allowedTransitions = map[UnitState][]UnitState{
	StatePending: {StateRunning, StateBlocked},
	StateRunning: {StateSucceeded, StateFailed},
}

// TransitionFunc observes state changes. It may be called concurrently.
type TransitionFunc func(u pipeline.WorkUnit, from, to UnitState)

type stateTracker struct {
	mu       sync.Mutex
	states   map[pipeline.WorkUnit]UnitState
	observer TransitionFunc
}

func newStateTracker(units []pipeline.WorkUnit, observer TransitionFunc) *stateTracker {
	t := &stateTracker{states: make(map[pipeline.WorkUnit]UnitState, len(units)), observer: observer}
	for _, u := range units {
		t.states[u] = StatePending
	}
	return t
}

func (t *stateTracker) transition(u pipeline.WorkUnit, to UnitState) error {
	t.mu.Lock()
	from, ok := t.states[u]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unit %s is not part of this run", u)
	}
	valid := false
	for _, next := range allowedTransitions[from] {
		if next == to {
			valid = true
			break
		}
	}
	if !valid {
		t.mu.Unlock()
		return fmt.Errorf("unit %s: illegal transition %s -> %s", u, from, to)
	}
	t.states[u] = to
	t.mu.Unlock()

	if t.observer != nil {
		t.observer(u, from, to)
	}
	return nil
}

func (t *stateTracker) state(u pipeline.WorkUnit) UnitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[u]
}
