// Package scheduler runs the periodic background work: refreshing due
// subscriptions, analyzing candidate feeds and pruning idle visits.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"silentfeed/internal/model"
	"silentfeed/internal/registry"
)

// Registry is the subset of the feed registry the scheduler drives.
type Registry interface {
	GetActiveSubscriptions(ctx context.Context) ([]model.Feed, error)
	RefreshFeed(ctx context.Context, id string) (registry.RefreshSummary, error)
	AnalyzeCandidates(ctx context.Context, limit int) (registry.AnalyzeSummary, error)
}

// Pruner drops visits that have been idle longer than maxIdle.
type Pruner interface {
	Prune(maxIdle time.Duration) int
}

// Options tunes a Scheduler. Zero values take defaults.
type Options struct {
	// RefreshInterval is the minimum time between two fetches of a feed.
	RefreshInterval time.Duration
	AnalyzeBatch    int
	// VisitMaxIdle is how long an abandoned visit is kept.
	VisitMaxIdle time.Duration
	Tick         time.Duration
}

func (o *Options) applyDefaults() {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 30 * time.Minute
	}
	if o.AnalyzeBatch <= 0 {
		o.AnalyzeBatch = 10
	}
	if o.VisitMaxIdle <= 0 {
		o.VisitMaxIdle = 2 * time.Hour
	}
	if o.Tick <= 0 {
		o.Tick = time.Minute
	}
}

// Scheduler periodically refreshes subscriptions and analyzes candidates.
type Scheduler struct {
	reg    Registry
	visits Pruner
	opts   Options
	log    *slog.Logger
	now    func() time.Time
}

// New creates a Scheduler. visits may be nil.
func New(reg Registry, visits Pruner, opts Options, log *slog.Logger) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		reg:    reg,
		visits: visits,
		opts:   opts,
		log:    log.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.refreshDue(ctx)
	if ctx.Err() != nil {
		return
	}

	if _, err := s.reg.AnalyzeCandidates(ctx, s.opts.AnalyzeBatch); err != nil {
		s.log.Error("analyze candidates", "error", err)
	}

	if s.visits != nil {
		if n := s.visits.Prune(s.opts.VisitMaxIdle); n > 0 {
			s.log.Debug("pruned idle visits", "count", n)
		}
	}
}

func (s *Scheduler) refreshDue(ctx context.Context) {
	feeds, err := s.reg.GetActiveSubscriptions(ctx)
	if err != nil {
		s.log.Error("list active subscriptions", "error", err)
		return
	}

	now := s.now()
	refreshed := 0
	for _, feed := range feeds {
		if ctx.Err() != nil {
			return
		}
		if !due(feed, now, s.opts.RefreshInterval) {
			continue
		}
		s.log.Debug("refreshing feed", "feed_id", feed.ID, "url", feed.URL)
		sum, err := s.reg.RefreshFeed(ctx, feed.ID)
		if err != nil {
			s.log.Error("refresh feed", "feed_id", feed.ID, "url", feed.URL, "error", err)
			continue
		}
		refreshed++
		if sum.Inserted > 0 {
			s.log.Info("new articles", "feed_id", feed.ID, "count", sum.Inserted)
		}
	}

	if refreshed > 0 {
		s.log.Info("refreshed feeds", "count", refreshed)
	}
}

func due(f model.Feed, now time.Time, interval time.Duration) bool {
	if f.LastFetchedAt == nil {
		return true
	}
	return !now.Before(f.LastFetchedAt.Add(interval))
}
