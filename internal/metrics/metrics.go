// Package metrics exposes Prometheus instrumentation for the forecast pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups the pipeline metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	// Provider jobs
	JobsTotal     *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	ProgressPolls prometheus.Counter

	// Forecast runs
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram
	ActiveRuns  prometheus.Gauge
	EvictedRuns prometheus.Counter

	// API
	APIRequestsTotal *prometheus.CounterVec
}

// NewCollector registers the metrics under namespace with reg. A nil reg uses
// the default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_jobs_total",
				Help:      "Provider dataset jobs by dataset class and outcome",
			},
			[]string{"class", "outcome"},
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_job_duration_seconds",
				Help:      "Duration of a submit, await and fetch pipeline for one dataset",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"class"},
		),

		ProgressPolls: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_progress_polls_total",
				Help:      "Number of job progress queries sent to the provider",
			},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forecast_runs_total",
				Help:      "Forecast runs by outcome",
			},
			[]string{"outcome"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "forecast_run_duration_seconds",
				Help:      "End-to-end duration of a forecast run",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "forecast_runs_active",
				Help:      "Forecast runs currently in flight",
			},
		),

		EvictedRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forecast_runs_evicted_total",
				Help:      "Finished runs dropped from the in-memory registry",
			},
		),

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by route, method, and status",
			},
			[]string{"route", "method", "status"},
		),
	}
}

// ObserveJob records the end of one dataset pipeline.
func (c *Collector) ObserveJob(class, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.JobsTotal.WithLabelValues(class, outcome).Inc()
	c.JobDuration.WithLabelValues(class).Observe(d.Seconds())
}

// ObservePoll counts one progress query.
func (c *Collector) ObservePoll() {
	if c == nil {
		return
	}
	c.ProgressPolls.Inc()
}

// RunStarted marks a run as in flight.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.ActiveRuns.Inc()
}

// RunFinished records the outcome of a run started with RunStarted.
func (c *Collector) RunFinished(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.ActiveRuns.Dec()
	c.RunsTotal.WithLabelValues(outcome).Inc()
	c.RunDuration.Observe(d.Seconds())
}

// RecordEvictions adds n evicted runs.
func (c *Collector) RecordEvictions(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.EvictedRuns.Add(float64(n))
}

// RecordAPIRequest increments the API request counter.
func (c *Collector) RecordAPIRequest(route, method, status string) {
	if c == nil {
		return
	}
	c.APIRequestsTotal.WithLabelValues(route, method, status).Inc()
}
