// Package metrics defines the Prometheus collectors exported by crewrun.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultRegistry holds every crewrun collector and backs the /metrics endpoint.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		JobsTotal, JobDuration, JobsRunning,
		TaskAttempts, TaskRetries,
		ProgressDropped, Subscribers,
		CacheLookups,
	)
}

// JobsTotal counts finished jobs by kind and final status.
var JobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crewrun_jobs_total",
		Help: "Finished jobs by kind and final status.",
	},
	[]string{"kind", "status"}, // run | replay, completed | failed
)

// JobDuration observes wall time of job runs in seconds.
var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "crewrun_job_duration_seconds",
		Help:    "Job run duration in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	},
	[]string{"kind"},
)

// JobsRunning is the number of jobs currently owned by a worker goroutine.
var JobsRunning = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "crewrun_jobs_running",
		Help: "Jobs currently executing.",
	},
)

// TaskAttempts counts task handler invocations by outcome.
var TaskAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crewrun_task_attempts_total",
		Help: "Task handler invocations by outcome.",
	},
	[]string{"outcome"}, // success | error
)

// TaskRetries counts retries scheduled after a task failure.
var TaskRetries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "crewrun_task_retries_total",
		Help: "Task retries scheduled after a failure.",
	},
)

// ProgressDropped counts progress events discarded because a subscriber
// buffer was full.
var ProgressDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "crewrun_progress_events_dropped_total",
		Help: "Progress events dropped on full subscriber buffers.",
	},
)

// Subscribers is the number of live progress subscribers.
var Subscribers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "crewrun_progress_subscribers",
		Help: "Live progress subscribers across all jobs.",
	},
)

// CacheLookups counts offline cache lookups by result.
var CacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crewrun_offline_cache_lookups_total",
		Help: "Offline cache lookups by result.",
	},
	[]string{"result"}, // hit | miss
)

// Handler serves DefaultRegistry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
