package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes pipeline and optimizer counters to Prometheus
// ⭐ SSOT: 메트릭 정의는 여기서만
type Recorder struct {
	combinations      *prometheus.CounterVec
	runs              *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	indicatorFailures *prometheus.CounterVec
	qualityOverall    *prometheus.GaugeVec
	backtestLatency   prometheus.Histogram
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns the process-wide recorder registered on the default registry.
// promauto panics on duplicate registration, so construction happens once.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRecorder
}

// NewWithRegistry creates a recorder bound to reg (tests pass prometheus.NewRegistry())
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		combinations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "altquant_optimizer_combinations_total",
				Help: "Backtested parameter combinations by outcome",
			},
			[]string{"strategy", "outcome"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "altquant_optimization_runs_total",
				Help: "Optimization runs by terminal status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "altquant_optimization_duration_seconds",
				Help:    "Wall-clock duration of grid searches",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"strategy"},
		),
		indicatorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "altquant_indicator_failures_total",
				Help: "Indicator pipeline failures by stage",
			},
			[]string{"indicator", "stage"},
		),
		qualityOverall: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "altquant_indicator_quality_overall",
				Help: "Latest overall quality score per indicator",
			},
			[]string{"indicator"},
		),
		backtestLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "altquant_backtest_duration_seconds",
				Help:    "Duration of a single backtest run",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordCombination counts one finished combination ("ok" or "failed")
func (r *Recorder) RecordCombination(strategy string, failed bool) {
	if r == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	r.combinations.WithLabelValues(strategy, outcome).Inc()
}

// RecordBacktest observes a single backtest latency in seconds
func (r *Recorder) RecordBacktest(seconds float64) {
	if r == nil {
		return
	}
	r.backtestLatency.Observe(seconds)
}

// RecordRun counts a terminal run status and its duration
func (r *Recorder) RecordRun(strategy, status string, seconds float64) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
	r.runDuration.WithLabelValues(strategy).Observe(seconds)
}

// RecordIndicatorFailure counts a failed pipeline stage for an indicator
func (r *Recorder) RecordIndicatorFailure(indicator, stage string) {
	if r == nil {
		return
	}
	r.indicatorFailures.WithLabelValues(indicator, stage).Inc()
}

// RecordQuality sets the latest overall quality of an indicator
func (r *Recorder) RecordQuality(indicator string, overall float64) {
	if r == nil {
		return
	}
	r.qualityOverall.WithLabelValues(indicator).Set(overall)
}
