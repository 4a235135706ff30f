package api

import (
	"encoding/json"
	"time"

	"silentfeed/internal/model"
)

type qualityJSON struct {
	Score           float64   `json:"score"`
	UpdateFrequency float64   `json:"update_frequency"`
	FormatValid     bool      `json:"format_valid"`
	Reachable       bool      `json:"reachable"`
	LastChecked     time.Time `json:"last_checked"`
}

type feedJSON struct {
	ID                   string                   `json:"id"`
	URL                  string                   `json:"url"`
	Title                string                   `json:"title"`
	DiscoveredFrom       string                   `json:"discovered_from,omitempty"`
	DiscoveredAt         time.Time                `json:"discovered_at"`
	Status               model.FeedStatus         `json:"status"`
	IsActive             bool                     `json:"is_active"`
	SubscribedAt         *time.Time               `json:"subscribed_at,omitempty"`
	UnsubscribedAt       *time.Time               `json:"unsubscribed_at,omitempty"`
	SubscriptionSource   model.SubscriptionSource `json:"subscription_source,omitempty"`
	Quality              *qualityJSON             `json:"quality,omitempty"`
	ArticleCount         int                      `json:"article_count"`
	UnreadCount          int                      `json:"unread_count"`
	RecommendedCount     int                      `json:"recommended_count"`
	RecommendedReadCount int                      `json:"recommended_read_count"`
	LastFetchedAt        *time.Time               `json:"last_fetched_at,omitempty"`
	LastError            string                   `json:"last_error,omitempty"`
}

type articleJSON struct {
	ID             string           `json:"id"`
	FeedID         string           `json:"feed_id"`
	Link           string           `json:"link"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Published      time.Time        `json:"published"`
	Fetched        time.Time        `json:"fetched"`
	Read           bool             `json:"read"`
	Starred        bool             `json:"starred"`
	Recommended    bool             `json:"recommended"`
	Disliked       bool             `json:"disliked"`
	InFeed         bool             `json:"in_feed"`
	PoolStatus     model.PoolStatus `json:"pool_status"`
	PoolExitReason model.ExitReason `json:"pool_exit_reason,omitempty"`
	PopupAddedAt   *time.Time       `json:"popup_added_at,omitempty"`
	AnalysisScore  *float64         `json:"analysis_score,omitempty"`
	Analysis       json.RawMessage  `json:"analysis,omitempty"`
}

type statsJSON struct {
	Total       int `json:"total"`
	Candidate   int `json:"candidate"`
	Recommended int `json:"recommended"`
	Subscribed  int `json:"subscribed"`
	Ignored     int `json:"ignored"`
}

func toQualityJSON(q *model.Quality) *qualityJSON {
	if q == nil {
		return nil
	}
	return &qualityJSON{
		Score:           q.Score,
		UpdateFrequency: q.UpdateFrequency,
		FormatValid:     q.FormatValid,
		Reachable:       q.Reachable,
		LastChecked:     q.LastChecked,
	}
}

func toFeedJSON(f *model.Feed) feedJSON {
	return feedJSON{
		ID:                   f.ID,
		URL:                  f.URL,
		Title:                f.Title,
		DiscoveredFrom:       f.DiscoveredFrom,
		DiscoveredAt:         f.DiscoveredAt,
		Status:               f.Status,
		IsActive:             f.IsActive,
		SubscribedAt:         f.SubscribedAt,
		UnsubscribedAt:       f.UnsubscribedAt,
		SubscriptionSource:   f.SubscriptionSource,
		Quality:              toQualityJSON(f.Quality),
		ArticleCount:         f.ArticleCount,
		UnreadCount:          f.UnreadCount,
		RecommendedCount:     f.RecommendedCount,
		RecommendedReadCount: f.RecommendedReadCount,
		LastFetchedAt:        f.LastFetchedAt,
		LastError:            f.LastError,
	}
}

func toFeedsJSON(feeds []model.Feed) []feedJSON {
	out := make([]feedJSON, 0, len(feeds))
	for i := range feeds {
		out = append(out, toFeedJSON(&feeds[i]))
	}
	return out
}

func toArticlesJSON(articles []model.Article) []articleJSON {
	out := make([]articleJSON, 0, len(articles))
	for _, a := range articles {
		out = append(out, articleJSON{
			ID:             a.ID,
			FeedID:         a.FeedID,
			Link:           a.Link,
			Title:          a.Title,
			Description:    a.Description,
			Published:      a.Published,
			Fetched:        a.Fetched,
			Read:           a.Read,
			Starred:        a.Starred,
			Recommended:    a.Recommended,
			Disliked:       a.Disliked,
			InFeed:         a.InFeed,
			PoolStatus:     a.PoolStatus,
			PoolExitReason: a.PoolExitReason,
			PopupAddedAt:   a.PopupAddedAt,
			AnalysisScore:  a.AnalysisScore,
			Analysis:       a.Analysis,
		})
	}
	return out
}
