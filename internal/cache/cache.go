// Package cache holds a single memoized value with its timestamp.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached value and the time it was stored.
type Entry[T any] struct {
	Value     T
	Timestamp time.Time
}

// Cache memoizes one value for a freshness window. It is owned by whoever
// creates it; there is no package-level state.
type Cache[T any] struct {
	mu    sync.Mutex
	entry *Entry[T]
	ttl   time.Duration
	now   func() time.Time
}

// New creates a Cache with the given freshness window.
func New[T any](ttl time.Duration, now func() time.Time) *Cache[T] {
	if now == nil {
		now = time.Now
	}
	return &Cache[T]{ttl: ttl, now: now}
}

// Get returns the cached value if present and still fresh.
func (c *Cache[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	if c.entry == nil || c.now().Sub(c.entry.Timestamp) >= c.ttl {
		return zero, false
	}
	return c.entry.Value, true
}

// Last returns the most recent entry regardless of age.
func (c *Cache[T]) Last() (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return Entry[T]{}, false
	}
	return *c.entry, true
}

// Set stores v stamped with the current time.
func (c *Cache[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = &Entry[T]{Value: v, Timestamp: c.now()}
}

// Invalidate marks the cached value stale but keeps it available via Last.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry != nil {
		c.entry.Timestamp = time.Time{}
	}
}

// GetOrLoad returns the fresh value or calls load to refresh it. When load
// fails the previous value (or the zero value) is returned with the error.
func (c *Cache[T]) GetOrLoad(load func() (T, error)) (T, error) {
	if v, ok := c.Get(); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		last, _ := c.Last()
		return last.Value, err
	}
	c.Set(v)
	return v, nil
}
