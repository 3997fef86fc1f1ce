package alignment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// checksTotal counts alignment checks.
	// Labels: result (aligned, drifted, error)
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "alignment",
			Name:      "checks_total",
			Help:      "Total number of alignment checks by result",
		},
		[]string{"result"},
	)

	// driftGauge exposes the current discrepancy counts.
	// Labels: kind (missing_vector, orphan_vector)
	driftGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "corpusd",
			Subsystem: "alignment",
			Name:      "drift",
			Help:      "Discrepancies found by the most recent alignment check",
		},
		[]string{"kind"},
	)

	// checkDuration observes alignment check time.
	checkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "alignment",
			Name:      "check_duration_seconds",
			Help:      "Duration of alignment checks in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// repairsTotal counts repair actions.
	// Labels: action (restored, deleted_orphan)
	repairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "alignment",
			Name:      "repairs_total",
			Help:      "Total number of repair actions by kind",
		},
		[]string{"action"},
	)
)

func recordCheck(report *Report) {
	if report.Aligned() {
		checksTotal.WithLabelValues("aligned").Inc()
	} else {
		checksTotal.WithLabelValues("drifted").Inc()
	}
	driftGauge.WithLabelValues("missing_vector").Set(float64(len(report.MissingVectors)))
	driftGauge.WithLabelValues("orphan_vector").Set(float64(len(report.OrphanVectors)))
	checkDuration.Observe(report.Duration.Seconds())
}
