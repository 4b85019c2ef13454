// Prometheus instrumentation for the job dispatcher. Label cardinality is
// bounded: job type (three values) and a small outcome set.
package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	// jobsQueued counts jobs accepted onto the queue by type.
	jobsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs accepted onto the dispatch queue.",
		},
		[]string{"type"},
	)

	// jobsDone counts finished jobs by type and outcome (ok/error/cancelled).
	jobsDone = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed, by outcome.",
		},
		[]string{"type", "outcome"},
	)

	// jobsInflight gauges currently executing jobs.
	jobsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_inflight",
			Help: "Current number of executing jobs.",
		},
	)

	// jobDuration records job execution time in seconds by type.
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Duration of job execution in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(jobsQueued, jobsDone, jobsInflight, jobDuration)
}
