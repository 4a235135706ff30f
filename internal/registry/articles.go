package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"silentfeed/internal/model"
	"silentfeed/internal/pool"
	"silentfeed/internal/storage"
)

// RefreshSummary reports the article changes of one feed refresh.
type RefreshSummary struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Total    int `json:"total"`
}

// RefreshFeed fetches a feed and reconciles its articles. A fetch failure is
// recorded on the feed, which is never deleted, and returned.
func (r *Registry) RefreshFeed(ctx context.Context, id string) (RefreshSummary, error) {
	f, err := r.store.GetFeed(ctx, id)
	if err != nil {
		observe("refresh", err)
		return RefreshSummary{}, fmt.Errorf("refresh feed: %w", err)
	}

	res, fetchErr := r.fetcher.Fetch(ctx, f.URL)
	if fetchErr != nil {
		observe("refresh", fetchErr)
		r.log.Warn("fetch failed", "feed_id", id, "url", f.URL, "error", fetchErr)
		if err := r.UpdateFetchInfo(ctx, id, fetchErr); err != nil {
			r.log.Error("record fetch failure", "feed_id", id, "error", err)
		}
		return RefreshSummary{}, fmt.Errorf("fetch feed: %w", fetchErr)
	}

	sum, err := r.UpdateFeedWithArticles(ctx, id, res)
	observe("refresh", err)
	return sum, err
}

// UpdateFeedWithArticles replaces a feed's article set with res in one
// atomic scope. Missing articles are soft-deleted, reappearing ones restored
// with their user flags intact, new ones inserted as pool candidates.
func (r *Registry) UpdateFeedWithArticles(ctx context.Context, id string, res model.FetchResult) (RefreshSummary, error) {
	var sum RefreshSummary
	err := r.txn.RunAtomic(ctx, bothScope, func(tx storage.Tx) error {
		f, err := tx.GetFeed(ctx, id)
		if err != nil {
			return err
		}
		existing, err := tx.ListArticles(ctx, id)
		if err != nil {
			return err
		}

		now := r.clock()
		plan := pool.PlanRefresh(id, existing, res.Items, now, r.newID)
		for i := range plan.Updated {
			if err := tx.UpdateArticle(ctx, &plan.Updated[i]); err != nil {
				return err
			}
		}
		if err := tx.InsertArticles(ctx, plan.Inserted); err != nil {
			return err
		}

		counts, err := tx.CountArticles(ctx, id)
		if err != nil {
			return err
		}
		f.ArticleCount = counts.Total
		f.UnreadCount = counts.Unread
		if f.Title == "" {
			f.Title = res.Metadata.Title
		}
		applyFetchInfo(f, nil, now)
		if err := tx.UpdateFeed(ctx, f); err != nil {
			return err
		}

		sum = RefreshSummary{Inserted: len(plan.Inserted), Updated: len(plan.Updated), Total: counts.Total}
		return nil
	})
	if err != nil {
		return RefreshSummary{}, fmt.Errorf("update feed articles: %w", err)
	}
	r.log.Debug("feed refreshed", "feed_id", id,
		"inserted", sum.Inserted, "updated", sum.Updated, "total", sum.Total)
	return sum, nil
}

// Recommendation promotes one candidate article with its analysis result.
type Recommendation struct {
	ArticleID string          `json:"article_id"`
	Score     *float64        `json:"score,omitempty"`
	Analysis  json.RawMessage `json:"analysis,omitempty"`
}

// SaveRecommendationsWithStats marks the articles recommended and adds them
// to their feeds' recommendation counters. Either everything is stored or
// nothing is.
func (r *Registry) SaveRecommendationsWithStats(ctx context.Context, recs []Recommendation) error {
	err := r.txn.RunAtomic(ctx, bothScope, func(tx storage.Tx) error {
		perFeed := make(map[string]int)
		var order []string
		for _, rec := range recs {
			a, err := tx.GetArticle(ctx, rec.ArticleID)
			if err != nil {
				return err
			}
			if err := pool.Recommend(a, rec.Score); err != nil {
				return err
			}
			if len(rec.Analysis) > 0 {
				a.Analysis = rec.Analysis
			}
			if err := tx.UpdateArticle(ctx, a); err != nil {
				return err
			}
			if perFeed[a.FeedID] == 0 {
				order = append(order, a.FeedID)
			}
			perFeed[a.FeedID]++
		}

		for _, feedID := range order {
			f, err := tx.GetFeed(ctx, feedID)
			if err != nil {
				return err
			}
			f.RecommendedCount += perFeed[feedID]
			if err := tx.UpdateFeed(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
	observe("save_recommendations", err)
	if err != nil {
		return fmt.Errorf("save recommendations: %w", err)
	}
	r.log.Info("recommendations saved", "count", len(recs))
	return nil
}

// PromoteToPopup moves a recommended article into the popup slot.
func (r *Registry) PromoteToPopup(ctx context.Context, articleID string) error {
	err := r.updateArticle(ctx, articleID, func(a *model.Article) error {
		return pool.Popup(a, r.clock())
	})
	if err != nil {
		return fmt.Errorf("promote to popup: %w", err)
	}
	return nil
}

// MarkRecommendationsRead marks articles of one feed read, exits them from
// the pool and adds the newly read recommended ones to the feed's
// recommendedReadCount. It returns that number.
func (r *Registry) MarkRecommendationsRead(ctx context.Context, feedID string, articleIDs []string) (int, error) {
	var n int
	err := r.txn.RunAtomic(ctx, bothScope, func(tx storage.Tx) error {
		n = 0
		f, err := tx.GetFeed(ctx, feedID)
		if err != nil {
			return err
		}
		for _, id := range articleIDs {
			a, err := tx.GetArticle(ctx, id)
			if err != nil {
				return err
			}
			if a.FeedID != feedID {
				return fmt.Errorf("%w: article %s belongs to feed %s", ErrValidation, id, a.FeedID)
			}
			if a.Read {
				continue
			}
			pool.MarkRead(a)
			if err := tx.UpdateArticle(ctx, a); err != nil {
				return err
			}
			if a.Recommended {
				n++
			}
		}

		counts, err := tx.CountArticles(ctx, feedID)
		if err != nil {
			return err
		}
		f.UnreadCount = counts.Unread
		f.RecommendedReadCount += n
		return tx.UpdateFeed(ctx, f)
	})
	observe("mark_read", err)
	if err != nil {
		return 0, fmt.Errorf("mark recommendations read: %w", err)
	}
	return n, nil
}

// DislikeArticle flags an article disliked and exits it from the pool.
func (r *Registry) DislikeArticle(ctx context.Context, articleID string) error {
	err := r.updateArticle(ctx, articleID, func(a *model.Article) error {
		pool.Dislike(a)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dislike article: %w", err)
	}
	return nil
}

// SetStarred sets the starred flag. Pool membership is not affected.
func (r *Registry) SetStarred(ctx context.Context, articleID string, starred bool) error {
	err := r.updateArticle(ctx, articleID, func(a *model.Article) error {
		a.Starred = starred
		return nil
	})
	if err != nil {
		return fmt.Errorf("set starred: %w", err)
	}
	return nil
}

func (r *Registry) updateArticle(ctx context.Context, id string, fn func(a *model.Article) error) error {
	return r.txn.RunAtomic(ctx, articlesScope, func(tx storage.Tx) error {
		a, err := tx.GetArticle(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		return tx.UpdateArticle(ctx, a)
	})
}

// ResetPool exits every pooled article with reason pool_reset and zeroes
// every feed's recommendation counters. It returns the number of articles
// that left the pool.
func (r *Registry) ResetPool(ctx context.Context) (int, error) {
	var n int
	err := r.txn.RunAtomic(ctx, bothScope, func(tx storage.Tx) error {
		n = 0
		articles, err := tx.ListPoolArticles(ctx)
		if err != nil {
			return err
		}
		for i := range articles {
			if err := pool.Exit(&articles[i], model.ExitPoolReset); err != nil {
				return err
			}
			if err := tx.UpdateArticle(ctx, &articles[i]); err != nil {
				return err
			}
			n++
		}
		return tx.ResetRecommendationCounters(ctx)
	})
	observe("reset_pool", err)
	if err != nil {
		return 0, fmt.Errorf("reset pool: %w", err)
	}
	r.log.Info("pool reset", "exited_articles", n)
	return n, nil
}

// GetArticles returns every article of a feed, soft-deleted ones included.
func (r *Registry) GetArticles(ctx context.Context, feedID string) ([]model.Article, error) {
	if _, err := r.store.GetFeed(ctx, feedID); err != nil {
		return nil, fmt.Errorf("get articles: %w", err)
	}
	articles, err := r.store.ListArticles(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("get articles: %w", err)
	}
	return articles, nil
}

// GetPoolArticles returns the articles that currently hold pool membership.
func (r *Registry) GetPoolArticles(ctx context.Context) ([]model.Article, error) {
	articles, err := r.store.ListPoolArticles(ctx)
	if err != nil {
		return nil, fmt.Errorf("get pool articles: %w", err)
	}
	return articles, nil
}
