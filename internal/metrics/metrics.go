// Package metrics exposes the Prometheus instrumentation for the task
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksCompleted counts tasks that finished successfully, per task name.
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kyaraben",
		Name:      "tasks_completed_total",
		Help:      "Tasks processed to completion.",
	}, []string{"task"})

	// TasksFailed counts permanent task failures, per task name.
	TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kyaraben",
		Name:      "tasks_failed_total",
		Help:      "Tasks that ended in a permanent error.",
	}, []string{"task"})

	// TasksDelayed counts cooperative suspensions (delayed republish).
	TasksDelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kyaraben",
		Name:      "tasks_delayed_total",
		Help:      "Tasks republished with a delay while waiting on an external condition.",
	}, []string{"task"})

	// TaskDuration observes handler wall time, per task name.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kyaraben",
		Name:      "task_duration_seconds",
		Help:      "Handler execution time.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"task"})

	// RetriesReposted counts dead-lettered messages reinjected with backoff.
	RetriesReposted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kyaraben",
		Name:      "retries_reposted_total",
		Help:      "Dead-lettered messages republished by the retry collector.",
	})

	// RetriesExpired counts messages discarded after the fail timeout.
	RetriesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kyaraben",
		Name:      "retries_expired_total",
		Help:      "Dead-lettered messages older than the fail timeout.",
	})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
