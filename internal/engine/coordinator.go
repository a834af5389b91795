package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alerislife/welcome-home/internal/pipeline"
	"github.com/alerislife/welcome-home/internal/runlog"
	"github.com/alerislife/welcome-home/internal/tables"
	"github.com/alerislife/welcome-home/internal/warehouse"
)

// Coordinator executes the work units of a run.
//
// Units of one table run in stage order on one goroutine; tables run in
// parallel and never influence each other. Each unit is attempted exactly
// once and always produces an outcome.
type Coordinator struct {
	Exporter  Exporter
	Store     ArtifactStore
	Warehouse warehouse.Connector
	Target    LoadTarget
	Logs      *runlog.Run

	// Concurrency caps the tables processed at once. 0 means no cap.
	Concurrency int
	// TempDir holds in-flight exports; empty means os.TempDir.
	TempDir string

	OnTransition TransitionFunc

	// Warnings receives problems that do not fail a unit, such as a unit
	// log that could not be opened. Nil drops them.
	Warnings io.Writer

	warnMu sync.Mutex
	now    func() time.Time
}

func (c *Coordinator) warnf(format string, args ...any) {
	if c.Warnings == nil {
		return
	}
	c.warnMu.Lock()
	defer c.warnMu.Unlock()
	fmt.Fprintf(c.Warnings, format, args...)
}

// Run is one dispatch of the coordinator.
type Run struct {
	ID string
	// Marker identifies the artifacts this run publishes. Loads that did not
	// extract in this run read the latest artifact at or before Marker.
	Marker time.Time
	Units  []pipeline.WorkUnit
}

func (c *Coordinator) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Execute streams one UnitOutcome per unit.
//
// Channel semantics:
//   - The results channel receives exactly len(run.Units) outcomes and is then closed.
//   - The error channel carries at most one fatal error, raised before any unit
//     is dispatched (missing collaborators, units outside the registry). In that
//     case no outcomes are produced. Both channels are always closed.
//   - Unit failures, including panics and cancellation, are outcomes, never errors.
func (c *Coordinator) Execute(ctx context.Context, run Run) (<-chan pipeline.UnitOutcome, <-chan error) {
	resultsCh := make(chan pipeline.UnitOutcome, len(run.Units))
	errCh := make(chan error, 1)

	groups, err := c.prepare(ctx, run)
	if err != nil {
		errCh <- err
		close(resultsCh)
		close(errCh)
		return resultsCh, errCh
	}

	logs := c.Logs
	if logs == nil {
		logs, _ = runlog.Open("", run.ID, nil)
	}
	tracker := newStateTracker(run.Units, c.OnTransition)

	go func() {
		defer close(resultsCh)
		defer close(errCh)

		var g errgroup.Group
		if c.Concurrency > 0 {
			g.SetLimit(c.Concurrency)
		}
		for _, tg := range groups {
			g.Go(func() error {
				c.runTable(ctx, run, tg, logs, tracker, func(o pipeline.UnitOutcome) { resultsCh <- o })
				return nil
			})
		}
		_ = g.Wait()
	}()

	return resultsCh, errCh
}

type tableGroup struct {
	spec   tables.TableSpec
	stages []pipeline.Stage
}

func (c *Coordinator) prepare(ctx context.Context, run Run) ([]tableGroup, error) {
	if ctx == nil {
		return nil, errors.New("context is nil")
	}
	if c == nil {
		return nil, errors.New("coordinator is nil")
	}

	var (
		groups  []tableGroup
		index   = map[string]int{}
		seen    = map[pipeline.WorkUnit]bool{}
		extract bool
		load    bool
	)
	for _, u := range run.Units {
		if seen[u] {
			return nil, fmt.Errorf("duplicate work unit %s", u)
		}
		seen[u] = true

		spec, err := tables.Resolve(u.Table)
		if err != nil {
			return nil, err
		}
		switch u.Stage {
		case pipeline.StageExtract:
			extract = true
		case pipeline.StageLoad:
			load = true
		default:
			return nil, fmt.Errorf("unit %s: unknown stage", u)
		}

		i, ok := index[u.Table]
		if !ok {
			i = len(groups)
			index[u.Table] = i
			groups = append(groups, tableGroup{spec: spec})
		}
		groups[i].stages = append(groups[i].stages, u.Stage)
	}

	if (extract || load) && c.Store == nil {
		return nil, errors.New("no staging store configured")
	}
	if extract && c.Exporter == nil {
		return nil, errors.New("extract units selected but no source API client is configured")
	}
	if load && c.Warehouse == nil {
		return nil, errors.New("load units selected but no warehouse is configured")
	}

	// Stage order within a table does not depend on request order.
	for i := range groups {
		if len(groups[i].stages) == 2 && groups[i].stages[0] == pipeline.StageLoad {
			groups[i].stages[0], groups[i].stages[1] = pipeline.StageExtract, pipeline.StageLoad
		}
	}
	return groups, nil
}

func (c *Coordinator) runTable(ctx context.Context, run Run, tg tableGroup, logs *runlog.Run, tracker *stateTracker, emit func(pipeline.UnitOutcome)) {
	var (
		staged        *pipeline.Artifact
		extractFailed bool
	)
	for _, st := range tg.stages {
		u := pipeline.WorkUnit{Table: tg.spec.Name, Stage: st}

		switch st {
		case pipeline.StageExtract:
			out := c.runUnit(ctx, u, logs, tracker, func(ctx context.Context, l *log.Logger) (*pipeline.Artifact, error) {
				return extractAndStage(ctx, l, c.Exporter, c.Store, tg.spec, run.Marker, c.TempDir)
			})
			if out.Status == pipeline.StatusSuccess {
				staged = out.Artifact
			} else {
				extractFailed = true
			}
			emit(out)

		case pipeline.StageLoad:
			if extractFailed {
				emit(c.blocked(u, tracker))
				continue
			}
			emit(c.runUnit(ctx, u, logs, tracker, func(ctx context.Context, l *log.Logger) (*pipeline.Artifact, error) {
				art := staged
				if art == nil {
					latest, err := c.Store.Latest(ctx, tg.spec, run.Marker)
					if err != nil {
						return nil, &pipeline.MissingArtifactError{Table: tg.spec.Name, Err: err}
					}
					l.Printf("using artifact %s published %s", latest.Key, latest.Marker.Format(time.RFC3339))
					art = &latest
				}
				if err := loadArtifact(ctx, l, c.Warehouse, c.Target, tg.spec, *art); err != nil {
					return nil, err
				}
				return art, nil
			}))
		}
	}
}

func (c *Coordinator) blocked(u pipeline.WorkUnit, tracker *stateTracker) pipeline.UnitOutcome {
	err := &pipeline.MissingArtifactError{Table: u.Table, Reason: "extract_stage failed in this run"}
	_ = tracker.transition(u, StateBlocked)
	now := c.clock()
	return pipeline.UnitOutcome{
		Table:    u.Table,
		Stage:    u.Stage,
		Status:   pipeline.StatusBlocked,
		Error:    err.Error(),
		Kind:     pipeline.KindMissingArtifact,
		Started:  now,
		Finished: now,
		Err:      err,
	}
}

type unitFunc func(ctx context.Context, l *log.Logger) (*pipeline.Artifact, error)

// runUnit runs fn as unit u and turns whatever happens, panics included,
// into an outcome.
func (c *Coordinator) runUnit(ctx context.Context, u pipeline.WorkUnit, logs *runlog.Run, tracker *stateTracker, fn unitFunc) pipeline.UnitOutcome {
	out := pipeline.UnitOutcome{Table: u.Table, Stage: u.Stage, Started: c.clock()}
	_ = tracker.transition(u, StateRunning)

	logger := log.New(io.Discard, "", 0)
	if ul, err := logs.Unit(u); err != nil {
		c.warnf("Warning: running %s without a unit log: %v\n", u, err)
	} else {
		defer ul.Close()
		logger, out.LogRef = ul.Logger, ul.Ref()
	}
	logger.Printf("started")

	art, err := func() (art *pipeline.Artifact, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("panic: %v\n%s", r, debug.Stack())
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn(ctx, logger)
	}()
	out.Finished = c.clock()

	if err != nil {
		logger.Printf("failed after %s: %v", out.Duration().Truncate(time.Millisecond), err)
		_ = tracker.transition(u, StateFailed)
		out.Status = pipeline.StatusFailure
		out.Err = err
		out.Error = err.Error()
		out.Kind = pipeline.KindOf(err)
		return out
	}
	logger.Printf("succeeded after %s", out.Duration().Truncate(time.Millisecond))
	_ = tracker.transition(u, StateSucceeded)
	out.Status = pipeline.StatusSuccess
	out.Artifact = art
	return out
}
