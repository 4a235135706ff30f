package bot

import (
	"fmt"
	"strings"

	"silentfeed/internal/model"
	"silentfeed/internal/registry"
)

const (
	statusActive = "active"
	statusPaused = "paused"

	shortIDLen = 8
	timeLayout = "2006-01-02 15:04 UTC"
)

var statusOrder = []model.FeedStatus{model.FeedSubscribed, model.FeedCandidate, model.FeedIgnored}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func feedName(f *model.Feed) string {
	if f.Title != "" {
		return f.Title
	}
	return f.URL
}

// FormatFeedList formats feeds grouped by status.
func FormatFeedList(feeds []model.Feed) string {
	if len(feeds) == 0 {
		return "No feeds yet. Use /add <url> or /discover <url>."
	}

	groups := make(map[model.FeedStatus][]model.Feed)
	for _, f := range feeds {
		groups[f.Status] = append(groups[f.Status], f)
	}

	var b strings.Builder
	for _, st := range statusOrder {
		fs := groups[st]
		if len(fs) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s (%d):\n", titleCase(string(st)), len(fs))
		for i := range fs {
			f := &fs[i]
			fmt.Fprintf(&b, "%s %s", shortID(f.ID), feedName(f))
			switch {
			case st == model.FeedSubscribed && !f.IsActive:
				fmt.Fprintf(&b, " [%s]", statusPaused)
			case st == model.FeedSubscribed:
				fmt.Fprintf(&b, " (%d unread)", f.UnreadCount)
			case f.Quality != nil:
				fmt.Fprintf(&b, " (score %.0f)", f.Quality.Score)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// FormatFeedInfo formats detailed information about a single feed.
func FormatFeedInfo(f *model.Feed) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]\n", feedName(f), f.Status)
	fmt.Fprintf(&b, "ID: %s\n", f.ID)
	fmt.Fprintf(&b, "URL: %s\n", f.URL)
	if f.DiscoveredFrom != "" {
		fmt.Fprintf(&b, "Discovered from: %s\n", f.DiscoveredFrom)
	}
	fmt.Fprintf(&b, "Discovered: %s\n", f.DiscoveredAt.Format(timeLayout))

	if f.Status == model.FeedSubscribed {
		state := statusActive
		if !f.IsActive {
			state = statusPaused
		}
		fmt.Fprintf(&b, "Refresh: %s\n", state)
		if f.SubscribedAt != nil {
			fmt.Fprintf(&b, "Subscribed: %s (%s)\n", f.SubscribedAt.Format(timeLayout), f.SubscriptionSource)
		}
	}
	if f.UnsubscribedAt != nil {
		fmt.Fprintf(&b, "Unsubscribed: %s\n", f.UnsubscribedAt.Format(timeLayout))
	}

	fmt.Fprintf(&b, "Articles: %d (%d unread)\n", f.ArticleCount, f.UnreadCount)
	fmt.Fprintf(&b, "Recommended: %d (%d read)\n", f.RecommendedCount, f.RecommendedReadCount)
	if f.LastFetchedAt != nil {
		fmt.Fprintf(&b, "Last fetch: %s\n", f.LastFetchedAt.Format(timeLayout))
	}
	if f.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", f.LastError)
	}

	b.WriteString("\n")
	if f.Quality == nil {
		b.WriteString("Quality: not analyzed")
	} else {
		b.WriteString(FormatQuality(f.Quality))
	}
	return b.String()
}

// FormatQuality formats a quality analysis result.
func FormatQuality(q *model.Quality) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Quality: %.0f/100\n", q.Score)
	fmt.Fprintf(&b, "Frequency: %.1f articles/week\n", q.UpdateFrequency)
	fmt.Fprintf(&b, "Reachable: %s, valid format: %s\n", yesNo(q.Reachable), yesNo(q.FormatValid))
	fmt.Fprintf(&b, "Checked: %s", q.LastChecked.Format(timeLayout))
	return b.String()
}

// FormatStats formats feed counts by status.
func FormatStats(s model.Stats) string {
	return fmt.Sprintf("Feeds: %d\nSubscribed: %d\nCandidates: %d (%d recommended)\nIgnored: %d",
		s.Total, s.Subscribed, s.Candidate, s.Recommended, s.Ignored)
}

// FormatAnalyzeSummary formats the result of a batched candidate analysis.
func FormatAnalyzeSummary(s registry.AnalyzeSummary) string {
	if s.Analyzed == 0 {
		return fmt.Sprintf("Nothing to analyze (%d candidates, all up to date).", s.Total)
	}
	return fmt.Sprintf("Analyzed %d of %d candidates: %d ok, %d failed.", s.Analyzed, s.Total, s.Success, s.Failed)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
