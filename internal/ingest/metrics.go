package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// documentsTotal counts ingestion outcomes.
	// Labels: result (committed, already_exists, failed, rolled_back)
	documentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total number of document ingestion attempts by result",
		},
		[]string{"result"},
	)

	// chunksPerDocument observes how many chunks each document produced.
	chunksPerDocument = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "ingest",
			Name:      "chunks_per_document",
			Help:      "Number of chunks produced per ingested document",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// ingestDuration observes end-to-end ingestion time.
	ingestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "End-to-end document ingestion duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// rollbackFailures counts rollbacks that themselves failed, leaving
	// state for the alignment auditor to reconcile.
	rollbackFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "ingest",
			Name:      "rollback_failures_total",
			Help:      "Total number of compensating rollbacks that failed",
		},
	)
)
