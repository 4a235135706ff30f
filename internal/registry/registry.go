// Package registry is the public API over feeds and the article pool. It
// combines URL normalization, quality analysis and the pool state machines,
// and performs every multi-entity change inside an atomic store scope.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"silentfeed/internal/cache"
	"silentfeed/internal/model"
	"silentfeed/internal/pool"
	"silentfeed/internal/quality"
	"silentfeed/internal/storage"
	"silentfeed/internal/txn"
	"silentfeed/internal/urlnorm"
)

// ErrValidation is returned for malformed URLs and feeds that fail
// validation. It is never retried.
var ErrValidation = errors.New("validation failed")

var (
	feedsScope    = []model.Collection{model.CollectionFeeds}
	articlesScope = []model.Collection{model.CollectionArticles}
	bothScope     = []model.Collection{model.CollectionFeeds, model.CollectionArticles}
)

// Fetcher retrieves and validates feed documents.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (model.FetchResult, error)
	Validate(ctx context.Context, url string) model.Validation
}

// Options tunes registry policies.
type Options struct {
	// RecommendThreshold is the minimum quality score for a candidate feed to
	// count as recommended in Stats. Zero counts every analyzed candidate;
	// negative selects the default of 70.
	RecommendThreshold float64
	// BatchSize is the number of OPML entries imported per atomic scope.
	BatchSize int
	// StatsTTL is how long computed stats are reused.
	StatsTTL time.Duration
}

func (o *Options) applyDefaults() {
	if o.RecommendThreshold < 0 {
		o.RecommendThreshold = 70
	}
	if o.BatchSize < 1 {
		o.BatchSize = 50
	}
	if o.StatsTTL <= 0 {
		o.StatsTTL = time.Minute
	}
}

// Deps are the collaborators of a Registry. Now and NewID default to
// time.Now and uuid.NewString.
type Deps struct {
	Store    storage.Store
	Txn      *txn.Coordinator
	Fetcher  Fetcher
	Analyzer *quality.Analyzer
	Log      *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

// Registry implements the feed and pool operations.
type Registry struct {
	store    storage.Store
	txn      *txn.Coordinator
	fetcher  Fetcher
	analyzer *quality.Analyzer
	stats    *cache.Cache[model.Stats]
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
	opts     Options
}

// New creates a Registry.
func New(d Deps, opts Options) *Registry {
	opts.applyDefaults()
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return &Registry{
		store:    d.Store,
		txn:      d.Txn,
		fetcher:  d.Fetcher,
		analyzer: d.Analyzer,
		stats:    cache.New[model.Stats](opts.StatsTTL, d.Now),
		log:      d.Log.With("component", "registry"),
		now:      d.Now,
		newID:    d.NewID,
		opts:     opts,
	}
}

func (r *Registry) clock() time.Time {
	return r.now().UTC()
}

// AddCandidate records a discovered feed and returns its id. A descriptor
// whose URL normalizes to an existing feed's key returns that feed's id and
// changes nothing.
func (r *Registry) AddCandidate(ctx context.Context, d model.FeedDescriptor) (string, error) {
	id, _, err := r.addCandidate(ctx, d)
	observe("add_candidate", err)
	return id, err
}

func (r *Registry) addCandidate(ctx context.Context, d model.FeedDescriptor) (string, bool, error) {
	if err := urlnorm.Validate(d.URL); err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	var (
		id      string
		created bool
	)
	err := r.txn.RunAtomic(ctx, feedsScope, func(tx storage.Tx) error {
		f, isNew, err := r.findOrCreate(ctx, tx, d)
		if err != nil {
			return err
		}
		id, created = f.ID, isNew
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("add candidate: %w", err)
	}
	if created {
		r.stats.Invalidate()
		r.log.Info("candidate added", "feed_id", id, "url", d.URL)
	}
	return id, created, nil
}

func (r *Registry) findOrCreate(ctx context.Context, tx storage.Tx, d model.FeedDescriptor) (*model.Feed, bool, error) {
	key := urlnorm.Normalize(d.URL)
	existing, err := tx.GetFeedByCanonicalURL(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	now := r.clock()
	discovered := d.DiscoveredAt
	if discovered.IsZero() {
		discovered = now
	}
	f := &model.Feed{
		ID:             r.newID(),
		URL:            d.URL,
		CanonicalURL:   key,
		Title:          d.Title,
		DiscoveredFrom: d.DiscoveredFrom,
		DiscoveredAt:   discovered,
		Status:         model.FeedCandidate,
		CreatedAt:      now,
	}
	if err := tx.InsertFeed(ctx, f); err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// Subscribe moves a candidate or ignored feed to subscribed. An empty source
// means manual. Failures are returned as is.
func (r *Registry) Subscribe(ctx context.Context, id string, source model.SubscriptionSource) error {
	if source == "" {
		source = model.SourceManual
	}
	err := r.updateFeed(ctx, id, func(f *model.Feed) error {
		return pool.Subscribe(f, source, r.clock())
	})
	observe("subscribe", err)
	if err != nil {
		return err
	}
	r.log.Info("feed subscribed", "feed_id", id, "source", source)
	return nil
}

// SubscribeURL validates url, records it as a candidate (deduplicated) and
// subscribes it. Subscribing a feed that is already subscribed succeeds
// without changes.
func (r *Registry) SubscribeURL(ctx context.Context, url string, source model.SubscriptionSource) (string, error) {
	if err := urlnorm.Validate(url); err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	v := r.fetcher.Validate(ctx, url)
	if !v.Valid {
		observe("subscribe_url", ErrValidation)
		return "", fmt.Errorf("%w: %s", ErrValidation, v.Error)
	}

	d := model.FeedDescriptor{URL: url, DiscoveredFrom: string(source), DiscoveredAt: r.clock()}
	if v.Metadata != nil {
		d.Title = v.Metadata.Title
	}

	var id string
	err := r.txn.RunAtomic(ctx, feedsScope, func(tx storage.Tx) error {
		f, _, err := r.subscribeDescriptor(ctx, tx, d, source)
		if err != nil {
			return err
		}
		id = f.ID
		return nil
	})
	observe("subscribe_url", err)
	if err != nil {
		return "", fmt.Errorf("subscribe url: %w", err)
	}
	r.stats.Invalidate()
	r.log.Info("feed subscribed", "feed_id", id, "url", url, "source", source)
	return id, nil
}

// subscribeDescriptor finds or creates the feed for d and subscribes it
// unless it already is. It reports whether the feed existed before.
func (r *Registry) subscribeDescriptor(ctx context.Context, tx storage.Tx, d model.FeedDescriptor, source model.SubscriptionSource) (*model.Feed, bool, error) {
	f, created, err := r.findOrCreate(ctx, tx, d)
	if err != nil {
		return nil, false, err
	}
	if f.Status == model.FeedSubscribed {
		return f, !created, nil
	}
	if f.Title == "" {
		f.Title = d.Title
	}
	if err := pool.Subscribe(f, source, r.clock()); err != nil {
		return nil, false, err
	}
	if err := tx.UpdateFeed(ctx, f); err != nil {
		return nil, false, err
	}
	return f, !created, nil
}

// Unsubscribe moves a subscribed feed to ignored and exits its pooled
// articles with reason feed_unsubscribed. No article is deleted. Failures are
// returned as is and leave the feed and its articles untouched.
func (r *Registry) Unsubscribe(ctx context.Context, id string) error {
	exited := 0
	err := r.txn.RunAtomic(ctx, bothScope, func(tx storage.Tx) error {
		exited = 0
		f, err := tx.GetFeed(ctx, id)
		if err != nil {
			return err
		}
		if err := pool.Unsubscribe(f, r.clock()); err != nil {
			return err
		}
		if err := tx.UpdateFeed(ctx, f); err != nil {
			return err
		}

		articles, err := tx.ListArticles(ctx, id)
		if err != nil {
			return err
		}
		changed := pool.ExitOnUnsubscribe(articles)
		for i := range changed {
			if err := tx.UpdateArticle(ctx, &changed[i]); err != nil {
				return err
			}
		}
		exited = len(changed)
		return nil
	})
	observe("unsubscribe", err)
	if err != nil {
		return err
	}
	r.stats.Invalidate()
	r.log.Info("feed unsubscribed", "feed_id", id, "exited_articles", exited)
	return nil
}

// Ignore moves a candidate feed to ignored.
func (r *Registry) Ignore(ctx context.Context, id string) error {
	err := r.updateFeed(ctx, id, pool.Ignore)
	observe("ignore", err)
	if err != nil {
		return fmt.Errorf("ignore: %w", err)
	}
	return nil
}

// Delete removes a candidate or ignored feed and its articles.
func (r *Registry) Delete(ctx context.Context, id string) error {
	err := r.txn.RunAtomic(ctx, bothScope, func(tx storage.Tx) error {
		f, err := tx.GetFeed(ctx, id)
		if err != nil {
			return err
		}
		if err := pool.CanDelete(f); err != nil {
			return err
		}
		return tx.DeleteFeed(ctx, id)
	})
	observe("delete", err)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	r.stats.Invalidate()
	r.log.Info("feed deleted", "feed_id", id)
	return nil
}

// ToggleActive pauses or resumes a subscribed feed and returns the new flag.
func (r *Registry) ToggleActive(ctx context.Context, id string) (bool, error) {
	var active bool
	err := r.txn.RunAtomic(ctx, feedsScope, func(tx storage.Tx) error {
		f, err := tx.GetFeed(ctx, id)
		if err != nil {
			return err
		}
		if active, err = pool.ToggleActive(f); err != nil {
			return err
		}
		return tx.UpdateFeed(ctx, f)
	})
	observe("toggle_active", err)
	if err != nil {
		return false, fmt.Errorf("toggle active: %w", err)
	}
	return active, nil
}

// updateFeed loads a feed, applies fn and stores the result in one scope.
func (r *Registry) updateFeed(ctx context.Context, id string, fn func(f *model.Feed) error) error {
	err := r.txn.RunAtomic(ctx, feedsScope, func(tx storage.Tx) error {
		f, err := tx.GetFeed(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
		return tx.UpdateFeed(ctx, f)
	})
	if err == nil {
		r.stats.Invalidate()
	}
	return err
}

// GetFeeds returns feeds with any of the given statuses, or all feeds.
func (r *Registry) GetFeeds(ctx context.Context, statuses ...model.FeedStatus) ([]model.Feed, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, st)
		}
	}
	feeds, err := r.store.ListFeeds(ctx, storage.FeedQuery{Statuses: statuses})
	if err != nil {
		return nil, fmt.Errorf("get feeds: %w", err)
	}
	return feeds, nil
}

// GetFeed returns a feed by id.
func (r *Registry) GetFeed(ctx context.Context, id string) (*model.Feed, error) {
	f, err := r.store.GetFeed(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	return f, nil
}

// GetFeedByURL returns the feed whose canonical URL matches url.
func (r *Registry) GetFeedByURL(ctx context.Context, url string) (*model.Feed, error) {
	f, err := r.store.GetFeedByCanonicalURL(ctx, urlnorm.Normalize(url))
	if err != nil {
		return nil, fmt.Errorf("get feed by url: %w", err)
	}
	return f, nil
}

// GetActiveSubscriptions returns subscribed feeds that are not paused.
func (r *Registry) GetActiveSubscriptions(ctx context.Context) ([]model.Feed, error) {
	feeds, err := r.store.ListFeeds(ctx, storage.FeedQuery{
		Statuses:   []model.FeedStatus{model.FeedSubscribed},
		ActiveOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("get active subscriptions: %w", err)
	}
	return feeds, nil
}

// UpdateFetchInfo records the outcome of a fetch attempt. A non-nil fetchErr
// is stored as the feed's last error and marks a known quality unreachable.
func (r *Registry) UpdateFetchInfo(ctx context.Context, id string, fetchErr error) error {
	err := r.txn.RunAtomic(ctx, feedsScope, func(tx storage.Tx) error {
		f, err := tx.GetFeed(ctx, id)
		if err != nil {
			return err
		}
		applyFetchInfo(f, fetchErr, r.clock())
		return tx.UpdateFeed(ctx, f)
	})
	if err != nil {
		return fmt.Errorf("update fetch info: %w", err)
	}
	return nil
}

func applyFetchInfo(f *model.Feed, fetchErr error, now time.Time) {
	f.LastFetchedAt = &now
	if fetchErr == nil {
		f.LastError = ""
		return
	}
	f.LastError = fetchErr.Error()
	if f.Quality != nil {
		f.Quality.Reachable = false
	}
}

// AnalyzeFeed returns the feed's quality, reusing a fresh stored result
// unless force is set. A probe failure leaves the stored quality untouched
// and is returned as an error.
func (r *Registry) AnalyzeFeed(ctx context.Context, id string, force bool) (*model.Quality, error) {
	f, err := r.store.GetFeed(ctx, id)
	if err != nil {
		observe("analyze", err)
		return nil, fmt.Errorf("analyze feed: %w", err)
	}

	q, cached, err := r.analyzer.Analyze(ctx, f, force)
	if err != nil {
		observe("analyze", err)
		r.log.Warn("quality analysis failed", "feed_id", id, "error", err)
		return nil, fmt.Errorf("analyze feed: %w", err)
	}
	if cached {
		return &q, nil
	}

	err = r.updateFeed(ctx, id, func(f *model.Feed) error {
		f.Quality = &q
		return nil
	})
	observe("analyze", err)
	if err != nil {
		return nil, fmt.Errorf("store quality: %w", err)
	}
	r.log.Debug("feed analyzed", "feed_id", id, "score", q.Score)
	return &q, nil
}

// AnalyzeSummary reports a batched analysis run. Analyzed is always
// Success+Failed and never exceeds the requested limit.
type AnalyzeSummary struct {
	Total    int `json:"total"`
	Analyzed int `json:"analyzed"`
	Success  int `json:"success"`
	Failed   int `json:"failed"`
}

// AnalyzeCandidates analyzes at most limit candidate feeds whose stored
// quality is missing or stale, in discovery order. Total counts all
// candidates.
func (r *Registry) AnalyzeCandidates(ctx context.Context, limit int) (AnalyzeSummary, error) {
	candidates, err := r.store.ListFeeds(ctx, storage.FeedQuery{Statuses: []model.FeedStatus{model.FeedCandidate}})
	if err != nil {
		return AnalyzeSummary{}, fmt.Errorf("list candidates: %w", err)
	}

	sum := AnalyzeSummary{Total: len(candidates)}
	for _, f := range candidates {
		if sum.Analyzed >= limit {
			break
		}
		if r.analyzer.Fresh(f.Quality) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Analyzed++
		if _, err := r.AnalyzeFeed(ctx, f.ID, true); err != nil {
			sum.Failed++
			continue
		}
		sum.Success++
	}

	r.log.Info("candidates analyzed",
		"total", sum.Total, "analyzed", sum.Analyzed, "success", sum.Success, "failed", sum.Failed)
	return sum, nil
}

// GetStats returns feed counts by status. Results are cached; when a
// refresh fails the previous value is returned and the failure is logged.
func (r *Registry) GetStats(ctx context.Context) model.Stats {
	stats, err := r.stats.GetOrLoad(func() (model.Stats, error) {
		return r.computeStats(ctx)
	})
	if err != nil {
		r.log.Error("compute stats", "error", err)
	}
	return stats
}

func (r *Registry) computeStats(ctx context.Context) (model.Stats, error) {
	feeds, err := r.store.ListFeeds(ctx, storage.FeedQuery{})
	if err != nil {
		return model.Stats{}, err
	}
	s := model.Stats{Total: len(feeds)}
	for _, f := range feeds {
		switch f.Status {
		case model.FeedCandidate:
			s.Candidate++
			if f.Quality != nil && f.Quality.Score >= r.opts.RecommendThreshold {
				s.Recommended++
			}
		case model.FeedSubscribed:
			s.Subscribed++
		case model.FeedIgnored:
			s.Ignored++
		}
	}
	return s, nil
}
