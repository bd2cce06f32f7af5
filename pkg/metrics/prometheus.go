package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "brentbreaks"

// Recorder implements the analysis Metrics port using Prometheus.
type Recorder struct {
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	chainsTotal      *prometheus.CounterVec
	changePoints     prometheus.Histogram
	snapshotLookups  *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	lastChangePoints prometheus.Gauge
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Analysis runs by strategy and outcome status",
			},
			[]string{"strategy", "status"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of one analysis run",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"strategy"},
		),
		chainsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sampler_chains_total",
				Help:      "Sampler chains by outcome",
			},
			[]string{"outcome"},
		),
		changePoints: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "change_points_per_run",
				Help:      "Number of change points reported per run",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 25},
			},
		),
		snapshotLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_lookups_total",
				Help:      "Snapshot store lookups by result",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastChangePoints: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_change_points",
				Help:      "Change points found by the most recent run",
			},
		),
	}
}

// RecordRun records one finished run.
func (r *Recorder) RecordRun(strategy, status string, d time.Duration) {
	r.runsTotal.WithLabelValues(strategy, status).Inc()
	r.runDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordChains records the sampler chain outcomes of one fit.
func (r *Recorder) RecordChains(total, diverged, timedOut int) {
	ok := total - diverged - timedOut
	if ok > 0 {
		r.chainsTotal.WithLabelValues("ok").Add(float64(ok))
	}
	if diverged > 0 {
		r.chainsTotal.WithLabelValues("diverged").Add(float64(diverged))
	}
	if timedOut > 0 {
		r.chainsTotal.WithLabelValues("timed_out").Add(float64(timedOut))
	}
}

func (r *Recorder) RecordChangePoints(n int) {
	r.changePoints.Observe(float64(n))
	r.lastChangePoints.Set(float64(n))
}

func (r *Recorder) RecordSnapshotLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.snapshotLookups.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
