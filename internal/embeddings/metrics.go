package embeddings

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// generationDuration tracks embedding call latency by model and operation.
	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "embeddings",
			Name:      "generation_duration_seconds",
			Help:      "Duration of embedding generation in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"model", "operation"},
	)

	// batchSize tracks the number of texts per batch request.
	batchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "embeddings",
			Name:      "batch_size",
			Help:      "Number of texts per embedding batch request",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"model", "operation"},
	)

	// generationErrors counts failed embedding calls.
	generationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "embeddings",
			Name:      "errors_total",
			Help:      "Total embedding generation errors by model and operation",
		},
		[]string{"model", "operation"},
	)
)

// recordGeneration records metrics for a single embedding call.
func recordGeneration(model, operation string, duration time.Duration, count int, err error) {
	generationDuration.WithLabelValues(model, operation).Observe(duration.Seconds())
	if count > 0 {
		batchSize.WithLabelValues(model, operation).Observe(float64(count))
	}
	if err != nil {
		generationErrors.WithLabelValues(model, operation).Inc()
	}
}
