package registry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"silentfeed/internal/pool"
	"silentfeed/internal/storage"
)

// OperationsTotal counts registry operations.
// Labels: op, result (success, not_found, invalid, validation, error)
var OperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "silentfeed",
		Subsystem: "registry",
		Name:      "operations_total",
		Help:      "Total number of registry operations by result",
	},
	[]string{"op", "result"},
)

func observe(op string, err error) {
	OperationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, pool.ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "error"
	}
}
