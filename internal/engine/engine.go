package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alerislife/welcome-home/internal/config"
	"github.com/alerislife/welcome-home/internal/ledger"
	"github.com/alerislife/welcome-home/internal/metrics"
	"github.com/alerislife/welcome-home/internal/output"
	"github.com/alerislife/welcome-home/internal/pipeline"
	"github.com/alerislife/welcome-home/internal/runlog"
	"github.com/alerislife/welcome-home/internal/source"
	"github.com/alerislife/welcome-home/internal/staging"
	"github.com/alerislife/welcome-home/internal/warehouse"
)

// Exit codes of a run.
const (
	ExitAllSuccess     = 0
	ExitAllFailure     = 1
	ExitPartialFailure = 2
	ExitFatal          = 3
)

func exitCodeForRun(fatal bool, status pipeline.RunStatus) int {
	// 0 = every unit succeeded (or nothing was selected)
	// 1 = no unit succeeded
	// 2 = some units succeeded, some did not
	// 3 = fatal error (the run did not dispatch)
	if fatal {
		return ExitFatal
	}
	switch status {
	case pipeline.RunAllSuccess:
		return ExitAllSuccess
	case pipeline.RunAllFailure:
		return ExitAllFailure
	default:
		return ExitPartialFailure
	}
}

// Collaborators are the external systems one run talks to. Nil members are
// allowed as long as no selected stage needs them.
type Collaborators struct {
	Exporter  Exporter
	Store     ArtifactStore
	Warehouse warehouse.Connector
	Target    LoadTarget
	Ledger    ledger.Ledger
	Metrics   *metrics.Recorder
}

func (c *Collaborators) Close() {
	if c != nil && c.Ledger != nil {
		c.Ledger.Close()
	}
}

type Engine struct {
	Stdout io.Writer
	Stderr io.Writer

	// build is a test seam for collaborator construction.
	// If nil, Engine connects to the configured systems.
	build func(ctx context.Context, cfg *config.Config, units []pipeline.WorkUnit) (*Collaborators, error)
	now   func() time.Time
}

func NewEngine() *Engine {
	return &Engine{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (e *Engine) stdout() io.Writer {
	if e.Stdout == nil {
		return os.Stdout
	}
	return e.Stdout
}

func (e *Engine) stderr() io.Writer {
	if e.Stderr == nil {
		return os.Stderr
	}
	return e.Stderr
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// BuildCollaborators connects only what the selected units need: extract
// needs the source API and staging, load needs staging and the warehouse.
// The ledger and metrics recorder are always built when configured.
func BuildCollaborators(ctx context.Context, cfg *config.Config, units []pipeline.WorkUnit) (*Collaborators, error) {
	var extract, load bool
	for _, u := range units {
		switch u.Stage {
		case pipeline.StageExtract:
			extract = true
		case pipeline.StageLoad:
			load = true
		}
	}

	c := &Collaborators{Metrics: metrics.NewRecorder()}

	if extract {
		client, err := source.NewClient(cfg.Source.BaseURL, cfg.Source.APIKey,
			source.WithVerbose(cfg.Runtime.Verbose, nil),
			source.WithTimeout(cfg.Source.Timeout.Duration()),
			source.WithBudget(cfg.Source.RateLimit),
		)
		if err != nil {
			return nil, fmt.Errorf("source api: %w", err)
		}
		c.Exporter = client
	}

	if extract || load {
		bucket, err := staging.Open(ctx, cfg.StagingConfig())
		if err != nil {
			return nil, fmt.Errorf("staging: %w", err)
		}
		c.Store = staging.NewStore(bucket, cfg.Staging.Prefix)
	}

	if load {
		wcfg := cfg.WarehouseConfig()
		sf, err := warehouse.NewSnowflake(wcfg)
		if err != nil {
			return nil, fmt.Errorf("warehouse: %w", err)
		}
		c.Warehouse = sf
		c.Target = LoadTarget{Database: wcfg.Database, Schema: wcfg.Schema, StageName: wcfg.StageName}
	}

	if lcfg, ok := cfg.LedgerConfig(); ok {
		l, err := ledger.Open(ctx, lcfg)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		c.Ledger = l
	}
	return c, nil
}

func setupOutputManager(cfg *config.Config, stdout io.Writer) (*output.Manager, error) {
	outMgr := output.NewManager()

	// Console Sink
	if !cfg.Output.NoConsole {
		if err := outMgr.AddSink(output.NewConsoleSink(stdout, cfg.Output.ConsoleFormat, cfg.Output.ConsoleFilterStatus)); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Emit Sinks (additional structured streams)
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(stdout, emit)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(es); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// File Sink
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(fs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Report Sink
	if cfg.Output.Report != "" {
		rs, err := output.NewReportSink(cfg.Output.Report)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(rs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	return outMgr, nil
}

// pruneHistory drops unit logs and ledger rows past their retention.
// Failures are reported and never stop the run.
func (e *Engine) pruneHistory(ctx context.Context, cfg *config.Config, l ledger.Ledger, now time.Time) {
	if removed, err := runlog.Prune(cfg.Logs.Dir, cfg.Logs.Retention.Duration(), now); err != nil {
		fmt.Fprintf(e.stderr(), "Warning: pruning run logs: %v\n", err)
	} else if len(removed) > 0 && cfg.Runtime.Verbose {
		fmt.Fprintf(e.stderr(), "[verbose] pruned %d run log directories\n", len(removed))
	}

	if l == nil || cfg.Ledger.Retention <= 0 {
		return
	}
	n, err := l.Prune(ctx, now.Add(-cfg.Ledger.Retention.Duration()))
	if err != nil {
		fmt.Fprintf(e.stderr(), "Warning: pruning run ledger: %v\n", err)
		return
	}
	if n > 0 && cfg.Runtime.Verbose {
		fmt.Fprintf(e.stderr(), "[verbose] pruned %d ledger runs\n", n)
	}
}

func (e *Engine) printDryRun(units []pipeline.WorkUnit) int {
	w := e.stdout()
	fmt.Fprintf(w, "Selected %d work units:\n", len(units))
	for _, u := range units {
		fmt.Fprintln(w, u)
	}
	return ExitAllSuccess
}

// sortOutcomes restores selection order; outcomes arrive in completion order.
func sortOutcomes(units []pipeline.WorkUnit, outcomes []pipeline.UnitOutcome) {
	pos := make(map[pipeline.WorkUnit]int, len(units))
	for i, u := range units {
		pos[u] = i
	}
	sort.SliceStable(outcomes, func(i, j int) bool {
		return pos[outcomes[i].Unit()] < pos[outcomes[j].Unit()]
	})
}

// Run executes one export run for cfg and returns the process exit code.
// cfg must already be validated.
func (e *Engine) Run(ctx context.Context, cfg *config.Config) int {
	stderr := e.stderr()
	started := e.clock()

	units, err := Select(cfg.Selection.Tables, cfg.Selection.Step)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeForRun(true, "")
	}

	if cfg.Selection.DryRun {
		return e.printDryRun(units)
	}

	build := e.build
	if build == nil {
		build = BuildCollaborators
	}
	collab, err := build(ctx, cfg, units)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeForRun(true, "")
	}
	defer collab.Close()

	e.pruneHistory(ctx, cfg, collab.Ledger, started)

	outMgr, err := setupOutputManager(cfg, e.stdout())
	if err != nil {
		fmt.Fprintf(stderr, "Error creating output sinks: %v\n", err)
		return exitCodeForRun(true, "")
	}
	defer outMgr.Close()

	runID := uuid.NewString()
	marker := started.UTC().Truncate(time.Second)
	sel := pipeline.Selection{Tables: SelectedTables(units), StepType: cfg.Selection.Step}

	if collab.Ledger != nil {
		if err := collab.Ledger.StartRun(ctx, ledger.Run{ID: runID, Marker: marker, Selection: sel, Started: started}); err != nil {
			fmt.Fprintf(stderr, "Warning: recording run in ledger: %v\n", err)
		} else {
			_ = outMgr.AddSink(&ledgerSink{ctx: ctx, ledger: collab.Ledger, runID: runID, stderr: stderr})
		}
	}
	if collab.Metrics != nil {
		_ = outMgr.AddSink(&metricsSink{recorder: collab.Metrics})
	}

	var mirror io.Writer
	if cfg.Runtime.Verbose {
		mirror = stderr
	}
	logs, err := runlog.Open(cfg.Logs.Dir, runID, mirror)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeForRun(true, "")
	}

	_ = outMgr.Write(output.Event{
		Type:     output.EventRunStarted,
		RunID:    runID,
		Units:    len(units),
		Tables:   sel.Tables,
		StepType: sel.StepType,
	})

	coord := &Coordinator{
		Exporter:    collab.Exporter,
		Store:       collab.Store,
		Warehouse:   collab.Warehouse,
		Target:      collab.Target,
		Logs:        logs,
		Concurrency: cfg.Runtime.Concurrency,
		TempDir:     cfg.Runtime.TempDir,
		Warnings:    stderr,
		OnTransition: func(u pipeline.WorkUnit, _, to UnitState) {
			if to == StateRunning {
				_ = outMgr.Write(output.Event{Type: output.EventUnitStarted, RunID: runID, UnitOutcome: &pipeline.UnitOutcome{Table: u.Table, Stage: u.Stage}})
			}
		},
		now: e.now,
	}

	runCtx := ctx
	if d := cfg.Runtime.Timeout.Duration(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	resCh, errCh := coord.Execute(runCtx, Run{ID: runID, Marker: marker, Units: units})

	outcomes := make([]pipeline.UnitOutcome, 0, len(units))
	for o := range resCh {
		outcomes = append(outcomes, o)
		_ = outMgr.Write(o)
	}

	var fatalErr error
	// Drain coordinator errors; keep one non-nil error.
	for err := range errCh {
		if err != nil {
			fatalErr = err
		}
	}
	if fatalErr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", fatalErr)
		code := exitCodeForRun(true, "")
		_ = outMgr.Write(output.Event{Type: output.EventRunFinished, RunID: runID, ExitCode: code})
		return code
	}

	sortOutcomes(units, outcomes)
	run := pipeline.RunOutcome{
		RunID:     runID,
		Marker:    marker,
		Selection: sel,
		Status:    pipeline.Aggregate(outcomes),
		Outcomes:  outcomes,
		Started:   started,
		Finished:  e.clock(),
	}
	plan := RetryPlan(outcomes)
	code := exitCodeForRun(false, run.Status)

	_ = outMgr.Write(run)
	_ = outMgr.Write(output.Event{
		Type:     output.EventRunFinished,
		RunID:    runID,
		Status:   run.Status,
		ExitCode: code,
		Retry:    plan,
	})
	if err := outMgr.Close(); err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}

	fmt.Fprint(stderr, output.Summarize(run))
	fmt.Fprint(stderr, output.RetryHints(plan))

	// Bookkeeping outlives a timed-out run.
	finishCtx := context.WithoutCancel(ctx)
	if collab.Ledger != nil {
		if err := collab.Ledger.FinishRun(finishCtx, runID, run.Status, run.Finished); err != nil && !errors.Is(err, ledger.ErrRunNotFound) {
			fmt.Fprintf(stderr, "Warning: recording run result in ledger: %v\n", err)
		}
	}
	if collab.Metrics != nil && cfg.Metrics.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(finishCtx, 30*time.Second)
		defer cancel()
		if err := collab.Metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			fmt.Fprintf(stderr, "Warning: %v\n", err)
		}
	}

	return code
}
