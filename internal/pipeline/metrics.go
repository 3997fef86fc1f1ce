package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queriesTotal counts pipeline outcomes.
	// Labels: outcome (answered, degraded, blocked, invalid, error), intent
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Total number of processed queries by outcome and intent",
		},
		[]string{"outcome", "intent"},
	)

	// queryDuration observes end-to-end query processing time.
	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "pipeline",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
