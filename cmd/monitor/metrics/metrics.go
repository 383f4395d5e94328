// Package metrics instruments the monitor loop with Prometheus metrics.
//
// Metrics exposed, all labelled by target:
//   - steadystate_adapter_collect_seconds: histogram of collection duration
//   - steadystate_evaluate_seconds: histogram of evaluation duration
//   - steadystate_collect_retries_total: counter of retried collections
//   - steadystate_steady: gauge, 1 when the last verdict was steady
//   - steadystate_window_average: gauge of the last window average
//   - steadystate_fit_first / steadystate_fit_last: gauges of the fit line at
//     the window edges
//   - steadystate_report_timestamp_seconds: gauge of the last report time
//   - steadystate_evaluations_total: counter by verdict
//   - steadystate_errors_total: counter by component and reason
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/steadystate/pkg/storage"
)

// Metrics holds the monitor's collectors.
type Metrics struct {
	CollectSeconds   *prometheus.HistogramVec
	EvaluateSeconds  *prometheus.HistogramVec
	CollectRetries   *prometheus.CounterVec
	Steady           *prometheus.GaugeVec
	WindowAverage    *prometheus.GaugeVec
	FitFirst         *prometheus.GaugeVec
	FitLast          *prometheus.GaugeVec
	ReportTimestamp  *prometheus.GaugeVec
	EvaluationsTotal *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on promhttp.Handler().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		CollectSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steadystate_adapter_collect_seconds",
			Help:    "Time spent collecting samples from the adapter",
			Buckets: prometheus.DefBuckets,
		}, []string{"target", "adapter"}),

		EvaluateSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steadystate_evaluate_seconds",
			Help:    "Time spent evaluating the measurement window",
			Buckets: []float64{.00001, .0001, .001, .01, .1},
		}, []string{"target"}),

		CollectRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steadystate_collect_retries_total",
			Help: "Collections retried after a transient failure",
		}, []string{"target"}),

		Steady: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "steadystate_steady",
			Help: "1 when the last evaluation found the window in steady state, 0 otherwise",
		}, []string{"target"}),

		WindowAverage: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "steadystate_window_average",
			Help: "Average of the last measurement window",
		}, []string{"target"}),

		FitFirst: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "steadystate_fit_first",
			Help: "Best fit line at the first round of the last window",
		}, []string{"target"}),

		FitLast: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "steadystate_fit_last",
			Help: "Best fit line at the last round of the last window",
		}, []string{"target"}),

		ReportTimestamp: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "steadystate_report_timestamp_seconds",
			Help: "Unix time of the last stored report",
		}, []string{"target"}),

		EvaluationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steadystate_evaluations_total",
			Help: "Evaluations by verdict",
		}, []string{"target", "verdict"}),

		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steadystate_errors_total",
			Help: "Errors by component and reason",
		}, []string{"target", "component", "reason"}),
	}
}

func (m *Metrics) RecordCollect(target, adapter string, seconds float64) {
	m.CollectSeconds.WithLabelValues(target, adapter).Observe(seconds)
}

func (m *Metrics) RecordEvaluate(target string, seconds float64) {
	m.EvaluateSeconds.WithLabelValues(target).Observe(seconds)
}

func (m *Metrics) RecordRetry(target string) {
	m.CollectRetries.WithLabelValues(target).Inc()
}

// RecordReport updates the verdict gauges and counters from a stored report.
// Window gauges are left untouched for insufficient data reports.
func (m *Metrics) RecordReport(r storage.Report) {
	m.EvaluationsTotal.WithLabelValues(r.Target, r.Verdict).Inc()
	m.ReportTimestamp.WithLabelValues(r.Target).Set(float64(r.GeneratedAt.Unix()))

	if r.Steady {
		m.Steady.WithLabelValues(r.Target).Set(1)
	} else {
		m.Steady.WithLabelValues(r.Target).Set(0)
	}

	if r.Verdict == storage.VerdictInsufficientData {
		return
	}
	m.WindowAverage.WithLabelValues(r.Target).Set(r.Average)
	if r.FailedCheck != "range" {
		m.FitFirst.WithLabelValues(r.Target).Set(r.FitFirst)
		m.FitLast.WithLabelValues(r.Target).Set(r.FitLast)
	}
}

func (m *Metrics) RecordError(target, component, reason string) {
	m.ErrorsTotal.WithLabelValues(target, component, reason).Inc()
}
