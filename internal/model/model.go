// Package model defines the domain types used across the application.
package model

import (
	"encoding/json"
	"time"
)

// FeedStatus is the lifecycle state of a feed.
type FeedStatus string

// Supported feed statuses.
const (
	FeedCandidate  FeedStatus = "candidate"
	FeedSubscribed FeedStatus = "subscribed"
	FeedIgnored    FeedStatus = "ignored"
)

// Valid reports whether s is one of the known feed statuses.
func (s FeedStatus) Valid() bool {
	switch s {
	case FeedCandidate, FeedSubscribed, FeedIgnored:
		return true
	}
	return false
}

// SubscriptionSource records how a feed came to be subscribed.
type SubscriptionSource string

// Supported subscription sources.
const (
	SourceDiscovered SubscriptionSource = "discovered"
	SourceManual     SubscriptionSource = "manual"
	SourceImported   SubscriptionSource = "imported"
)

// Valid reports whether s is one of the known subscription sources.
func (s SubscriptionSource) Valid() bool {
	switch s {
	case SourceDiscovered, SourceManual, SourceImported:
		return true
	}
	return false
}

// PoolStatus is an article's membership state in the recommendation pipeline.
type PoolStatus string

// Supported pool statuses.
const (
	PoolCandidate   PoolStatus = "candidate"
	PoolRecommended PoolStatus = "recommended"
	PoolPopup       PoolStatus = "popup"
	PoolExited      PoolStatus = "exited"
)

// ExitReason explains why an article left the pool.
type ExitReason string

// Supported exit reasons.
const (
	ExitFeedUnsubscribed ExitReason = "feed_unsubscribed"
	ExitRead             ExitReason = "read"
	ExitDisliked         ExitReason = "disliked"
	ExitPoolReset        ExitReason = "pool_reset"
)

// Quality is the result of a feed health analysis.
type Quality struct {
	Score           float64
	UpdateFrequency float64 // articles per week
	FormatValid     bool
	Reachable       bool
	LastChecked     time.Time
}

// Feed is a syndicated feed, unique per canonical URL.
type Feed struct {
	ID             string
	URL            string
	CanonicalURL   string
	Title          string
	DiscoveredFrom string
	DiscoveredAt   time.Time

	Status             FeedStatus
	IsActive           bool
	SubscribedAt       *time.Time
	UnsubscribedAt     *time.Time
	SubscriptionSource SubscriptionSource

	Quality *Quality

	ArticleCount         int
	UnreadCount          int
	RecommendedCount     int
	RecommendedReadCount int
	LastFetchedAt        *time.Time
	LastError            string

	CreatedAt time.Time
}

// Article is a single entry of a feed, unique per link within that feed.
type Article struct {
	ID          string
	FeedID      string
	Link        string
	LinkKey     string
	Title       string
	Description string
	Published   time.Time
	Fetched     time.Time

	Read        bool
	Starred     bool
	Recommended bool
	Disliked    bool

	InFeed         bool
	PoolStatus     PoolStatus
	PoolExitReason ExitReason
	PopupAddedAt   *time.Time
	AnalysisScore  *float64
	Analysis       json.RawMessage
}

// FeedDescriptor describes a feed found by discovery or import.
type FeedDescriptor struct {
	URL            string
	Title          string
	DiscoveredFrom string
	DiscoveredAt   time.Time
}

// FetchedItem is one entry of a freshly fetched feed document.
type FetchedItem struct {
	Title       string
	Description string
	Link        string
	Published   time.Time
}

// FeedMetadata is the channel-level information of a fetched feed.
type FeedMetadata struct {
	Title       string
	Description string
	SiteURL     string
}

// FetchResult is the outcome of fetching and parsing a feed.
type FetchResult struct {
	Items    []FetchedItem
	Metadata FeedMetadata
}

// Validation is the outcome of a pre-subscription URL check.
type Validation struct {
	Valid    bool
	Metadata *FeedMetadata
	Error    string
}

// Stats summarizes feeds by status.
type Stats struct {
	Total       int
	Candidate   int
	Recommended int
	Subscribed  int
	Ignored     int
}

// Collection names an entity collection of the document store.
type Collection string

// Known collections.
const (
	CollectionFeeds    Collection = "feeds"
	CollectionArticles Collection = "articles"
)
