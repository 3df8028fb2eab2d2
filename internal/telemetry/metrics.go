package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_submitted_total", Help: "Stage jobs enqueued (submissions and stage advances)"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_completed_total", Help: "Stage jobs completed successfully"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_retried_total", Help: "Stage jobs re-queued after a failure"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_failed_total", Help: "Stage jobs that exhausted their attempts"})
	JobsCancelled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_cancelled_total", Help: "Pending jobs removed by cancellation"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_rate_limit_rejects_total", Help: "Submissions refused by the admission controller"})
	PendingGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_jobs_pending", Help: "Jobs waiting in the pending queue"})
	ActiveGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_jobs_active", Help: "Jobs currently executing"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			JobsCancelled,
			RateLimitRejects,
			PendingGauge,
			ActiveGauge,
		)
	})
	return promhttp.Handler()
}
