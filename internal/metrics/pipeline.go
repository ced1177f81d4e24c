package metrics

import "github.com/prometheus/client_golang/prometheus"

// Vector index and review pipeline metrics.
var (
	VectorIndexRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promptdojo",
			Name:      "vector_index_requests_total",
			Help:      "Total number of vector index requests",
		},
		[]string{"op", "status"}, // op: "upsert" / "query"
	)

	VectorIndexRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "promptdojo",
			Name:      "vector_index_request_duration_seconds",
			Help:      "Vector index request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	ReviewStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promptdojo",
			Name:      "review_stages_total",
			Help:      "Review pipeline stage outcomes",
		},
		[]string{"stage", "status"}, // stage: "output" / "evaluation"
	)

	ReviewDefaultFillTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "promptdojo",
			Name:      "review_default_fill_total",
			Help:      "Reviews where all four criteria were default-filled",
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers vector index and review metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(VectorIndexRequestsTotal)
	prometheus.MustRegister(VectorIndexRequestDuration)
	prometheus.MustRegister(ReviewStagesTotal)
	prometheus.MustRegister(ReviewDefaultFillTotal)
	pipelineMetricsRegistered = true
}
