// Package metrics exposes Prometheus counters for batch job activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "texttools"

var (
	// JobsStarted counts Start calls by outcome (submitted, failed, rejected).
	JobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of batch jobs started",
		},
		[]string{"outcome"},
	)

	// SubBatchesSubmitted counts provider submissions.
	SubBatchesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sub_batches_submitted_total",
			Help:      "Total number of chunks submitted to the provider",
		},
	)

	// StatusPolls counts aggregated poll results by job status.
	StatusPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Total number of job status polls",
		},
		[]string{"status"},
	)

	// ProviderErrors counts provider call failures by operation.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total number of failed provider calls",
		},
		[]string{"op"},
	)

	// ResultItems counts collected items by outcome (parsed, failed).
	ResultItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_items_total",
			Help:      "Total number of collected result items",
		},
		[]string{"outcome"},
	)

	// HandlerFailures counts result handler errors and panics.
	HandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Total number of result handler failures",
		},
		[]string{"handler"},
	)

	// ProviderCallDuration tracks provider call latency in seconds.
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of provider calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"op"},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
