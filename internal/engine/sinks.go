package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/alerislife/welcome-home/internal/ledger"
	"github.com/alerislife/welcome-home/internal/metrics"
	"github.com/alerislife/welcome-home/internal/pipeline"
)

// ledgerSink records each unit outcome as it arrives, so a run killed
// midway still leaves the finished units in the ledger.
type ledgerSink struct {
	ctx    context.Context
	ledger ledger.Ledger
	runID  string
	stderr io.Writer
}

func (s *ledgerSink) Write(v any) error {
	o, ok := v.(pipeline.UnitOutcome)
	if !ok {
		return nil
	}
	// A cancelled run still records its outcomes.
	if err := s.ledger.RecordOutcome(context.WithoutCancel(s.ctx), s.runID, o); err != nil {
		if s.stderr != nil {
			fmt.Fprintf(s.stderr, "Warning: recording %s/%s in ledger: %v\n", o.Table, o.Stage, err)
		}
		return err
	}
	return nil
}

// Close leaves the ledger open; the engine owns it.
func (s *ledgerSink) Close() error { return nil }

type metricsSink struct {
	recorder *metrics.Recorder
}

func (s *metricsSink) Write(v any) error {
	switch t := v.(type) {
	case pipeline.UnitOutcome:
		s.recorder.ObserveUnit(t)
	case pipeline.RunOutcome:
		s.recorder.ObserveRun(t)
	}
	return nil
}

func (s *metricsSink) Close() error { return nil }
