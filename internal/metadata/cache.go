// ABOUTME: Generic TTL cache with single-flight refresh and incremental staleness checks.
// ABOUTME: Reused for schema blobs, table lists, and mined keyword sets.

package metadata

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc retrieves the authoritative value for a key.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

// ModifiedFunc reports when the source last changed for a key. Optional; a
// nil ModifiedFunc makes every non-forced refresh a full re-fetch.
type ModifiedFunc func(ctx context.Context, key string) (time.Time, error)

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache is a TTL-bounded cache. Reads are lock-shared; at most one refresh
// per key is in flight at a time, and concurrent refresh requests for the
// same key collapse into one fetch whose result all callers observe.
//
// Expired entries are retained until overwritten or invalidated so callers
// can fall back to stale-but-available data when the source is unreachable.
type Cache[V any] struct {
	mu       sync.RWMutex
	entries  map[string]entry[V]
	ttl      time.Duration
	fetch    FetchFunc[V]
	modified ModifiedFunc
	group    singleflight.Group
}

// NewCache creates a cache with the given TTL and fetch function. The
// modified function may be nil.
func NewCache[V any](ttl time.Duration, fetch FetchFunc[V], modified ModifiedFunc) *Cache[V] {
	return &Cache[V]{
		entries:  make(map[string]entry[V]),
		ttl:      ttl,
		fetch:    fetch,
		modified: modified,
	}
}

// Get returns the cached value only if its age is within the TTL.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Since(e.fetchedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetStale returns the cached value regardless of age. Used as the fallback
// when a refresh fails and stale data is better than none.
func (c *Cache[V]) GetStale(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Refresh fetches and stores the value for a key. When force is false and a
// modified function is configured, the source's last-modified timestamp is
// compared against the entry's fetch time and the re-fetch is skipped when
// the source has not changed (the entry's freshness is renewed). Concurrent
// refreshes of one key share a single fetch.
func (c *Cache[V]) Refresh(ctx context.Context, key string, force bool) (V, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.refresh(ctx, key, force)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (c *Cache[V]) refresh(ctx context.Context, key string, force bool) (V, error) {
	if !force && c.modified != nil {
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()

		if ok {
			lastMod, err := c.modified(ctx, key)
			if err == nil && !lastMod.IsZero() && !lastMod.After(e.fetchedAt) {
				// Source unchanged since the last fetch; renew freshness.
				c.mu.Lock()
				e.fetchedAt = time.Now()
				c.entries[key] = e
				c.mu.Unlock()
				return e.value, nil
			}
		}
	}

	value, err := c.fetch(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, fetchedAt: time.Now()}
	c.mu.Unlock()
	return value, nil
}

// GetOrRefresh returns the fresh cached value, refreshing synchronously on a
// miss.
func (c *Cache[V]) GetOrRefresh(ctx context.Context, key string) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	return c.Refresh(ctx, key, false)
}

// Invalidate drops the entry immediately.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of entries, fresh or stale.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
