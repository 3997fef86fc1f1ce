package retriever

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// retrievalDuration observes retrieval time by method.
	retrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "retriever",
			Name:      "duration_seconds",
			Help:      "Retrieval duration in seconds by method",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// droppedHits counts vector hits discarded for lack of a committed
	// metadata row. Non-zero values signal store drift.
	droppedHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "retriever",
			Name:      "dropped_hits_total",
			Help:      "Vector hits dropped because no committed chunk row matched",
		},
	)
)
