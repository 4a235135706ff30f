package pool

import (
	"fmt"
	"time"

	"silentfeed/internal/model"
	"silentfeed/internal/urlnorm"
)

// InPool reports whether the article currently holds pool membership.
func InPool(a *model.Article) bool {
	switch a.PoolStatus {
	case model.PoolCandidate, model.PoolRecommended, model.PoolPopup:
		return true
	case model.PoolExited:
		return false
	}
	return false
}

// Recommend promotes a candidate article to recommended.
func Recommend(a *model.Article, score *float64) error {
	switch a.PoolStatus {
	case model.PoolCandidate:
	case model.PoolRecommended, model.PoolPopup, model.PoolExited:
		return invalid("article", string(a.PoolStatus), "recommend")
	default:
		return fmt.Errorf("unknown pool status %q", a.PoolStatus)
	}
	a.PoolStatus = model.PoolRecommended
	a.Recommended = true
	if score != nil {
		s := *score
		a.AnalysisScore = &s
	}
	return nil
}

// Popup moves a recommended article into the popup slot.
func Popup(a *model.Article, now time.Time) error {
	switch a.PoolStatus {
	case model.PoolRecommended:
	case model.PoolCandidate, model.PoolPopup, model.PoolExited:
		return invalid("article", string(a.PoolStatus), "pop up")
	default:
		return fmt.Errorf("unknown pool status %q", a.PoolStatus)
	}
	a.PoolStatus = model.PoolPopup
	a.PopupAddedAt = &now
	return nil
}

// Exit revokes pool membership. Exited is terminal for the membership; user
// flags are left untouched.
func Exit(a *model.Article, reason model.ExitReason) error {
	switch a.PoolStatus {
	case model.PoolCandidate, model.PoolRecommended, model.PoolPopup:
	case model.PoolExited:
		return invalid("article", string(a.PoolStatus), "exit")
	default:
		return fmt.Errorf("unknown pool status %q", a.PoolStatus)
	}
	a.PoolStatus = model.PoolExited
	a.PoolExitReason = reason
	return nil
}

// ExitOnUnsubscribe exits every pooled article of an unsubscribed feed and
// returns the ones that changed. No article is removed.
func ExitOnUnsubscribe(articles []model.Article) []model.Article {
	var changed []model.Article
	for i := range articles {
		a := &articles[i]
		if !InPool(a) {
			continue
		}
		if err := Exit(a, model.ExitFeedUnsubscribed); err != nil {
			continue
		}
		changed = append(changed, *a)
	}
	return changed
}

// MarkRead sets the read flag and exits the pool if the article is pooled.
// It reports whether the article left the pool.
func MarkRead(a *model.Article) bool {
	a.Read = true
	if !InPool(a) {
		return false
	}
	return Exit(a, model.ExitRead) == nil
}

// Dislike sets the disliked flag and exits the pool if the article is pooled.
func Dislike(a *model.Article) bool {
	a.Disliked = true
	if !InPool(a) {
		return false
	}
	return Exit(a, model.ExitDisliked) == nil
}

// RefreshPlan lists the row changes needed to reconcile a feed's articles
// with a freshly fetched item set.
type RefreshPlan struct {
	Updated  []model.Article
	Inserted []model.Article
	// Total is the feed's row count after the plan is applied, including
	// soft-deleted rows.
	Total int
}

// PlanRefresh reconciles existing articles with fetched items.
//
// Articles missing from items are soft-deleted (InFeed=false). Items whose
// link matches an existing article, soft-deleted or not, restore InFeed and
// refresh only title, description and published; read, starred,
// recommended, disliked and pool status are kept. Unmatched items become new
// candidate articles.
func PlanRefresh(feedID string, existing []model.Article, items []model.FetchedItem, now time.Time, newID func() string) RefreshPlan {
	fetched := make(map[string]model.FetchedItem, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		if it.Link == "" {
			continue
		}
		key := urlnorm.Normalize(it.Link)
		if _, dup := fetched[key]; dup {
			continue
		}
		fetched[key] = it
		order = append(order, key)
	}

	var plan RefreshPlan
	known := make(map[string]bool, len(existing))
	for _, a := range existing {
		key := a.LinkKey
		if key == "" {
			key = urlnorm.Normalize(a.Link)
		}
		known[key] = true

		it, ok := fetched[key]
		if !ok {
			if a.InFeed {
				a.InFeed = false
				plan.Updated = append(plan.Updated, a)
			}
			continue
		}

		changed := !a.InFeed || a.Title != it.Title || a.Description != it.Description
		a.InFeed = true
		a.Title = it.Title
		a.Description = it.Description
		if !it.Published.IsZero() && !it.Published.Equal(a.Published) {
			a.Published = it.Published
			changed = true
		}
		if changed {
			plan.Updated = append(plan.Updated, a)
		}
	}

	for _, key := range order {
		if known[key] {
			continue
		}
		it := fetched[key]
		published := it.Published
		if published.IsZero() {
			published = now
		}
		plan.Inserted = append(plan.Inserted, model.Article{
			ID:          newID(),
			FeedID:      feedID,
			Link:        it.Link,
			LinkKey:     key,
			Title:       it.Title,
			Description: it.Description,
			Published:   published,
			Fetched:     now,
			InFeed:      true,
			PoolStatus:  model.PoolCandidate,
		})
	}

	plan.Total = len(existing) + len(plan.Inserted)
	return plan
}
