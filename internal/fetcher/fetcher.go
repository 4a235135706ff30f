// Package fetcher downloads and parses feeds, validates feed URLs and
// collects the raw signals used for quality scoring.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"silentfeed/internal/model"
	"silentfeed/internal/quality"
	"silentfeed/internal/urlnorm"
)

const (
	maxBody        = 5 * 1024 * 1024
	maxDescription = 500
	// frequencyWindow is the look-back used to estimate articles per week.
	frequencyWindow = 4 * 7 * 24 * time.Hour
)

// ErrUnreachable wraps failures to download the document at all.
var ErrUnreachable = errors.New("feed unreachable")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses RSS, Atom and JSON feeds.
type Fetcher struct {
	client HTTPClient
	now    func() time.Time
}

// New creates a Fetcher with the given HTTP client. Timeouts are the
// client's responsibility.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{client: client, now: time.Now}
}

// NewHTTPClient returns an http.Client suitable for New.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// Fetch downloads and parses the feed at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) (model.FetchResult, error) {
	feed, err := f.load(ctx, url)
	if err != nil {
		return model.FetchResult{}, err
	}

	res := model.FetchResult{Metadata: metadata(feed)}
	for _, item := range feed.Items {
		res.Items = append(res.Items, model.FetchedItem{
			Title:       strings.TrimSpace(item.Title),
			Description: truncate(strings.TrimSpace(item.Description), maxDescription),
			Link:        itemLink(item),
			Published:   itemTime(item),
		})
	}
	return res, nil
}

// Validate reports whether url serves a parsable feed.
func (f *Fetcher) Validate(ctx context.Context, url string) model.Validation {
	if err := urlnorm.Validate(url); err != nil {
		return model.Validation{Error: err.Error()}
	}
	feed, err := f.load(ctx, url)
	if err != nil {
		return model.Validation{Error: err.Error()}
	}
	md := metadata(feed)
	return model.Validation{Valid: true, Metadata: &md}
}

// Probe collects quality signals for url. Download and parse failures are
// reported as Signals; an error means the URL itself is unusable.
func (f *Fetcher) Probe(ctx context.Context, url string) (quality.Signals, error) {
	if err := urlnorm.Validate(url); err != nil {
		return quality.Signals{}, err
	}
	body, err := f.download(ctx, url)
	if err != nil {
		return quality.Signals{}, nil
	}
	feed, err := parse(body)
	if err != nil {
		return quality.Signals{Reachable: true}, nil
	}

	sig := quality.Signals{
		Reachable:   true,
		FormatValid: true,
		ItemCount:   len(feed.Items),
	}
	cutoff := f.now().Add(-frequencyWindow)
	recent := 0
	for _, item := range feed.Items {
		if strings.TrimSpace(item.Title) != "" {
			sig.ItemsWithTitle++
		}
		if strings.TrimSpace(item.Description) != "" || strings.TrimSpace(item.Content) != "" {
			sig.ItemsWithDescription++
		}
		if t := itemTime(item); !t.IsZero() {
			sig.ItemsWithDate++
			if t.After(cutoff) {
				recent++
			}
		}
	}
	sig.ArticlesPerWeek = float64(recent) / (frequencyWindow.Hours() / (7 * 24))
	return sig, nil
}

func (f *Fetcher) load(ctx context.Context, url string) (*gofeed.Feed, error) {
	body, err := f.download(ctx, url)
	if err != nil {
		return nil, err
	}
	return parse(body)
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "silentfeed/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get: %w", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUnreachable, err)
	}
	return body, nil
}

func parse(body []byte) (*gofeed.Feed, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func metadata(feed *gofeed.Feed) model.FeedMetadata {
	return model.FeedMetadata{
		Title:       strings.TrimSpace(feed.Title),
		Description: strings.TrimSpace(feed.Description),
		SiteURL:     feed.Link,
	}
}

// itemLink returns the item's link, falling back to a URL-shaped GUID.
func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return strings.TrimSpace(item.Link)
	}
	if strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://") {
		return strings.TrimSpace(item.GUID)
	}
	return ""
}

func itemTime(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC()
	}
	return time.Time{}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
