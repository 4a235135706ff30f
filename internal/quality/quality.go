// Package quality scores the health of a feed from raw probe signals.
package quality

import (
	"context"
	"fmt"
	"math"
	"time"

	"silentfeed/internal/model"
)

// Sub-score weights of the composite score. They sum to 1.
const (
	weightFrequency    = 0.3
	weightCompleteness = 0.3
	weightFormat       = 0.2
	weightReachability = 0.2
)

// DefaultFreshness is how long a stored analysis is reused.
const DefaultFreshness = 24 * time.Hour

// Signals are the raw observations a probe collects about a feed.
type Signals struct {
	Reachable   bool
	FormatValid bool

	// ArticlesPerWeek is the observed publishing rate.
	ArticlesPerWeek float64

	ItemCount            int
	ItemsWithTitle       int
	ItemsWithDescription int
	ItemsWithDate        int
}

// SubScores are the four 0..100 components of a quality score.
type SubScores struct {
	Frequency    float64
	Completeness float64
	Format       float64
	Reachability float64
}

// Breakdown computes the sub-scores for s.
func Breakdown(s Signals) SubScores {
	var sub SubScores
	sub.Frequency = frequencyScore(s.ArticlesPerWeek)
	sub.Completeness = completenessScore(s)
	if s.FormatValid {
		sub.Format = 100
	}
	if s.Reachable {
		sub.Reachability = 100
	}
	return sub
}

// Score blends the sub-scores of s into a Quality checked at checkedAt.
// It is pure: equal inputs always produce equal outputs.
func Score(s Signals, checkedAt time.Time) model.Quality {
	sub := Breakdown(s)
	total := sub.Frequency*weightFrequency +
		sub.Completeness*weightCompleteness +
		sub.Format*weightFormat +
		sub.Reachability*weightReachability

	return model.Quality{
		Score:           math.Round(clamp(total)*10) / 10,
		UpdateFrequency: s.ArticlesPerWeek,
		FormatValid:     s.FormatValid,
		Reachable:       s.Reachable,
		LastChecked:     checkedAt,
	}
}

func frequencyScore(perWeek float64) float64 {
	switch {
	case perWeek <= 0:
		return 0
	case perWeek >= 7:
		return 100
	case perWeek >= 3:
		return 80
	case perWeek >= 1:
		return 60
	default:
		// Less than weekly: scale 20..60.
		return 20 + perWeek*40
	}
}

func completenessScore(s Signals) float64 {
	if s.ItemCount <= 0 {
		return 0
	}
	n := float64(s.ItemCount)
	ratio := (float64(s.ItemsWithTitle)/n + float64(s.ItemsWithDescription)/n + float64(s.ItemsWithDate)/n) / 3
	return clamp(ratio * 100)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// Prober collects signals for a feed URL. Unreachable feeds and unparsable
// documents are reported through Signals; an error means the probe itself
// could not run.
type Prober interface {
	Probe(ctx context.Context, url string) (Signals, error)
}

// Analyzer scores feeds and decides when a stored score is still fresh.
type Analyzer struct {
	prober    Prober
	freshness time.Duration
	now       func() time.Time
}

// NewAnalyzer creates an Analyzer. A non-positive freshness uses DefaultFreshness.
func NewAnalyzer(prober Prober, freshness time.Duration, now func() time.Time) *Analyzer {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if now == nil {
		now = time.Now
	}
	return &Analyzer{prober: prober, freshness: freshness, now: now}
}

// Fresh reports whether q can be served from cache.
func (a *Analyzer) Fresh(q *model.Quality) bool {
	if q == nil || q.LastChecked.IsZero() {
		return false
	}
	return a.now().Sub(q.LastChecked) < a.freshness
}

// Analyze returns the quality of feed. The stored value is reused while fresh
// unless force is set.
func (a *Analyzer) Analyze(ctx context.Context, feed *model.Feed, force bool) (model.Quality, bool, error) {
	if !force && a.Fresh(feed.Quality) {
		return *feed.Quality, true, nil
	}
	sig, err := a.prober.Probe(ctx, feed.URL)
	if err != nil {
		return model.Quality{}, false, fmt.Errorf("probe feed: %w", err)
	}
	return Score(sig, a.now().UTC()), false, nil
}
