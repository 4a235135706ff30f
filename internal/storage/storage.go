// Package storage defines the document store interface and its implementations.
package storage

import (
	"context"
	"errors"

	"silentfeed/internal/model"
)

// Sentinel errors returned by Store implementations.
var (
	ErrNotFound   = errors.New("not found")
	ErrOutOfScope = errors.New("collection outside transaction scope")
	// ErrTransient marks failures that may succeed when retried, such as a
	// locked database.
	ErrTransient = errors.New("transient storage failure")
)

// FeedQuery selects feeds. Zero value selects every feed.
type FeedQuery struct {
	Statuses   []model.FeedStatus
	ActiveOnly bool
}

// ArticleCounts are per-feed row counts used to refresh feed counters.
type ArticleCounts struct {
	Total  int
	Unread int
}

// Tx is the set of collection operations available both inside and outside
// an atomic scope.
type Tx interface {
	GetFeed(ctx context.Context, id string) (*model.Feed, error)
	GetFeedByCanonicalURL(ctx context.Context, key string) (*model.Feed, error)
	ListFeeds(ctx context.Context, q FeedQuery) ([]model.Feed, error)
	InsertFeed(ctx context.Context, f *model.Feed) error
	UpdateFeed(ctx context.Context, f *model.Feed) error
	DeleteFeed(ctx context.Context, id string) error
	ResetRecommendationCounters(ctx context.Context) error

	GetArticle(ctx context.Context, id string) (*model.Article, error)
	ListArticles(ctx context.Context, feedID string) ([]model.Article, error)
	ListPoolArticles(ctx context.Context) ([]model.Article, error)
	InsertArticles(ctx context.Context, articles []model.Article) error
	UpdateArticle(ctx context.Context, a *model.Article) error
	CountArticles(ctx context.Context, feedID string) (ArticleCounts, error)
}

// Store is the document store. Atomic runs fn in a transaction limited to
// scope: every write inside fn commits together or not at all, and touching
// a collection outside scope fails with ErrOutOfScope.
type Store interface {
	Tx
	Atomic(ctx context.Context, scope []model.Collection, fn func(tx Tx) error) error
	Close() error
}
