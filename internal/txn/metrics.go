package txn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AtomicTotal counts finished atomic scopes.
	// Labels: scope (joined collection names), result (success, error)
	AtomicTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "silentfeed",
			Subsystem: "txn",
			Name:      "atomic_total",
			Help:      "Total number of atomic scopes by result",
		},
		[]string{"scope", "result"},
	)

	// AtomicDuration tracks atomic scope latency, retries included.
	AtomicDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "silentfeed",
			Subsystem: "txn",
			Name:      "atomic_duration_seconds",
			Help:      "Duration of atomic scopes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"scope"},
	)

	// RetriesTotal counts repeated attempts after a transient failure.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "silentfeed",
			Subsystem: "txn",
			Name:      "retries_total",
			Help:      "Total number of atomic scope retries",
		},
		[]string{"scope"},
	)
)
