package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LedgerOpsTotal counts journal appends by entry kind.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gigvault",
			Name:      "ledger_operations_total",
			Help:      "Total ledger appends by entry kind.",
		},
		[]string{"kind"},
	)

	// LedgerOpDuration observes append latency by entry kind.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gigvault",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger append duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"kind"},
	)

	// SnapshotDrift counts snapshot verifications that failed to reconcile.
	SnapshotDrift = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gigvault",
			Name:      "ledger_snapshot_drift_total",
			Help:      "Snapshot verifications that did not match a full replay.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerOpsTotal,
		LedgerOpDuration,
		SnapshotDrift,
	)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(kind string) func() {
	LedgerOpsTotal.WithLabelValues(kind).Inc()
	start := time.Now()
	return func() {
		LedgerOpDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}
