// Package metrics exposes Prometheus counters for the pipeline and
// the query path, served on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videorag_pipeline_runs_total",
		Help: "Completed pipeline runs by terminal status.",
	}, []string{"status"})

	StageSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "videorag_pipeline_stage_seconds",
		Help:    "Wall time spent per pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	IndexedUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videorag_indexed_units_total",
		Help: "Content units written to the vector store by kind.",
	}, []string{"kind"})

	Queries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "videorag_queries_total",
		Help: "Chat and search queries served.",
	})
)

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
