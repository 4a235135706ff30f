package txn

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"silentfeed/internal/model"
	"silentfeed/internal/storage"
)

// Coordinator runs atomic scopes against a store, retrying transient
// failures.
type Coordinator struct {
	store storage.Store
	retry RetryConfig
	log   *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store storage.Store, retry RetryConfig, log *slog.Logger) *Coordinator {
	retry.ApplyDefaults()
	return &Coordinator{
		store: store,
		retry: retry,
		log:   log.With("component", "txn"),
	}
}

// RunAtomic executes fn so that every read and write against scope is
// isolated from other scopes and persists all-or-nothing. fn may run more
// than once and must not keep side effects outside tx between attempts.
func (c *Coordinator) RunAtomic(ctx context.Context, scope []model.Collection, fn func(tx storage.Tx) error) error {
	label := scopeLabel(scope)
	start := time.Now()
	attempt := 0

	err := WithRetry(ctx, c.retry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			RetriesTotal.WithLabelValues(label).Inc()
			c.log.Warn("retrying atomic scope", "scope", label, "attempt", attempt)
		}
		return c.store.Atomic(ctx, scope, fn)
	})

	AtomicDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		AtomicTotal.WithLabelValues(label, "error").Inc()
		c.log.Debug("atomic scope failed", "scope", label, "attempts", attempt, "error", err)
		return err
	}
	AtomicTotal.WithLabelValues(label, "success").Inc()
	return nil
}

func scopeLabel(scope []model.Collection) string {
	names := make([]string, len(scope))
	for i, c := range scope {
		names[i] = string(c)
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}
