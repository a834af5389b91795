// Package metrics tracks export runs in a Prometheus registry and pushes it
// to a Pushgateway when the run ends. Runs are batch jobs, so there is no
// scrape endpoint.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/alerislife/welcome-home/internal/pipeline"
)

const namespace = "welcome_home_export"

// DefaultJob is the Pushgateway job label.
const DefaultJob = "welcome_home_export"

type Recorder struct {
	registry *prometheus.Registry

	units            *prometheus.CounterVec
	unitDuration     *prometheus.HistogramVec
	recordsExtracted *prometheus.CounterVec
	bytesStaged      *prometheus.CounterVec
	runStatus        *prometheus.GaugeVec
	lastRun          prometheus.Gauge
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		units: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_total",
				Help:      "Work units finished, by stage and status",
			},
			[]string{"table", "stage", "status"},
		),
		unitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Work unit duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
			},
			[]string{"stage"},
		),
		recordsExtracted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_extracted_total",
				Help:      "Records exported from the Welcome Home API and staged",
			},
			[]string{"table"},
		),
		bytesStaged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_staged_total",
				Help:      "Bytes written to staging",
			},
			[]string{"table"},
		),
		runStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_status",
				Help:      "1 for the status of the last run, 0 otherwise",
			},
			[]string{"status"},
		),
		lastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveUnit records one finished unit.
func (r *Recorder) ObserveUnit(o pipeline.UnitOutcome) {
	r.units.WithLabelValues(o.Table, string(o.Stage), string(o.Status)).Inc()
	if d := o.Duration(); d > 0 {
		r.unitDuration.WithLabelValues(string(o.Stage)).Observe(d.Seconds())
	}
	if o.Stage == pipeline.StageExtract && o.Status == pipeline.StatusSuccess && o.Artifact != nil {
		r.recordsExtracted.WithLabelValues(o.Table).Add(float64(o.Artifact.Records))
		r.bytesStaged.WithLabelValues(o.Table).Add(float64(o.Artifact.Bytes))
	}
}

// ObserveRun records the aggregate status of a finished run.
func (r *Recorder) ObserveRun(run pipeline.RunOutcome) {
	for _, st := range []pipeline.RunStatus{pipeline.RunAllSuccess, pipeline.RunPartialFailure, pipeline.RunAllFailure} {
		v := 0.0
		if st == run.Status {
			v = 1
		}
		r.runStatus.WithLabelValues(string(st)).Set(v)
	}
	if !run.Finished.IsZero() {
		r.lastRun.Set(float64(run.Finished.Unix()))
	}
}

// Push sends the registry to the Pushgateway at url, replacing the job's
// previous metrics. An empty job uses DefaultJob.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		job = DefaultJob
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
