package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"silentfeed/internal/model"
)

type stubProber struct {
	sig   Signals
	err   error
	calls int
}

func (p *stubProber) Probe(_ context.Context, _ string) (Signals, error) {
	p.calls++
	return p.sig, p.err
}

var healthy = Signals{
	Reachable:            true,
	FormatValid:          true,
	ArticlesPerWeek:      10,
	ItemCount:            10,
	ItemsWithTitle:       10,
	ItemsWithDescription: 10,
	ItemsWithDate:        10,
}

func TestScore(t *testing.T) {
	checked := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		sig  Signals
		want float64
	}{
		{name: "healthy", sig: healthy, want: 100},
		{name: "unreachable", sig: Signals{}, want: 0},
		{
			name: "reachable but unparsable",
			sig:  Signals{Reachable: true},
			want: 20,
		},
		{
			name: "weekly with missing descriptions",
			sig: Signals{
				Reachable: true, FormatValid: true, ArticlesPerWeek: 1,
				ItemCount: 4, ItemsWithTitle: 4, ItemsWithDescription: 0, ItemsWithDate: 4,
			},
			// 60*0.3 + 66.67*0.3 + 100*0.2 + 100*0.2
			want: 78,
		},
		{
			name: "rare publisher",
			sig: Signals{
				Reachable: true, FormatValid: true, ArticlesPerWeek: 0.5,
				ItemCount: 2, ItemsWithTitle: 2, ItemsWithDescription: 2, ItemsWithDate: 2,
			},
			// 40*0.3 + 100*0.3 + 40
			want: 82,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.sig, checked)
			if diff := cmp.Diff(tt.want, got.Score); diff != "" {
				t.Errorf("score mismatch (-want +got):\n%s", diff)
			}
			if got.Score < 0 || got.Score > 100 {
				t.Errorf("score %v out of range", got.Score)
			}
			if diff := cmp.Diff(checked, got.LastChecked); diff != "" {
				t.Errorf("last checked mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	checked := time.Unix(1700000000, 0).UTC()
	sig := Signals{
		Reachable: true, FormatValid: true, ArticlesPerWeek: 2.5,
		ItemCount: 7, ItemsWithTitle: 7, ItemsWithDescription: 3, ItemsWithDate: 5,
	}
	first := Score(sig, checked)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, Score(sig, checked)); diff != "" {
			t.Fatalf("Score not deterministic (-first +got):\n%s", diff)
		}
	}
}

func TestAnalyzerFreshness(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tests := []struct {
		name       string
		quality    *model.Quality
		force      bool
		wantCached bool
		wantProbes int
	}{
		{name: "never analyzed", quality: nil, wantProbes: 1},
		{
			name:       "fresh cache",
			quality:    &model.Quality{Score: 42, LastChecked: now.Add(-time.Hour)},
			wantCached: true,
		},
		{
			name:       "forced despite fresh cache",
			quality:    &model.Quality{Score: 42, LastChecked: now.Add(-time.Hour)},
			force:      true,
			wantProbes: 1,
		},
		{
			name:       "stale cache",
			quality:    &model.Quality{Score: 42, LastChecked: now.Add(-25 * time.Hour)},
			wantProbes: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProber{sig: healthy}
			a := NewAnalyzer(p, 24*time.Hour, clock)
			feed := &model.Feed{URL: "https://example.com/rss", Quality: tt.quality}

			q, cached, err := a.Analyze(context.Background(), feed, tt.force)
			if err != nil {
				t.Fatalf("analyze: %v", err)
			}
			if diff := cmp.Diff(tt.wantCached, cached); diff != "" {
				t.Errorf("cached mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantProbes, p.calls); diff != "" {
				t.Errorf("probe calls mismatch (-want +got):\n%s", diff)
			}
			if cached && q.Score != tt.quality.Score {
				t.Errorf("expected cached score %v, got %v", tt.quality.Score, q.Score)
			}
		})
	}
}

func TestAnalyzerProbeError(t *testing.T) {
	p := &stubProber{err: errors.New("context deadline exceeded")}
	a := NewAnalyzer(p, time.Hour, nil)

	_, _, err := a.Analyze(context.Background(), &model.Feed{URL: "https://x.test"}, true)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
