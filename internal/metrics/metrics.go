// Package metrics provides Prometheus metrics for docquer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docquer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docquer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docquer_llm_request_duration_seconds",
			Help:    "Duration of chat completion calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"provider", "outcome"},
	)

	IngestedChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docquer_ingested_chunks_total",
			Help: "Total number of chunks written to vector indexes",
		},
		[]string{"source"},
	)

	VectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docquer_vector_errors_total",
			Help: "Total number of failed vector store operations",
		},
		[]string{"operation"},
	)

	PurgeJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docquer_purge_jobs_total",
			Help: "Total number of processed index purge jobs",
		},
		[]string{"outcome"},
	)
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
