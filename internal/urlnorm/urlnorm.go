// Package urlnorm canonicalizes feed and article URLs for duplicate detection.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned for URLs that cannot identify a feed.
var ErrInvalidURL = errors.New("invalid url")

// indexFiles are directory index documents that resolve to their directory.
var indexFiles = []string{"/index.html", "/index.xml", "/index.rss"}

// Normalize returns the dedup key for raw. A single trailing slash and a
// trailing index document are dropped, so "https://a.com/blog/",
// "https://a.com/blog/index.xml" and "https://a.com/blog" share one key.
// The key is only used for lookups; stored URLs are never rewritten.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "/")
	for _, idx := range indexFiles {
		if strings.HasSuffix(s, idx) {
			s = strings.TrimSuffix(s, idx)
			break
		}
	}
	return s
}

// Validate checks that raw is an absolute http(s) URL with a host.
func Validate(raw string) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}
