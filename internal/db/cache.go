// ABOUTME: Thread-safe TTL cache for executed query results.
// ABOUTME: Wraps an Executor so repeated identical queries skip the database.

package db

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	result    *Result
	timestamp time.Time
	element   *list.Element
}

// ResultCache is a TTL-based, size-limited cache of query results keyed by
// the normalized query text. Uses a doubly-linked list to maintain insertion
// order for O(1) eviction.
type ResultCache struct {
	mu      sync.RWMutex
	results map[string]*cacheEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewResultCache creates a cache with the given TTL and maximum size. A
// background goroutine periodically removes expired entries; call Close to
// stop it.
func NewResultCache(ttl time.Duration, maxSize int) *ResultCache {
	c := &ResultCache{
		results: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached result for a query if present and fresh.
func (c *ResultCache) Get(queryText string) (*Result, bool) {
	key := normalizeQuery(queryText)

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.results[key]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return nil, false
	}
	return entry.result, true
}

// Put stores a result. At capacity the oldest entry is evicted.
func (c *ResultCache) Put(queryText string, result *Result) {
	key := normalizeQuery(queryText)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.results[key]; exists {
		entry.result = result
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.results) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.results[key] = &cacheEntry{result: result, timestamp: now, element: elem}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *ResultCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.results, key)
}

// Len returns the number of cached results, fresh or expired.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// cleanup periodically removes expired entries until Close is called.
func (c *ResultCache) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			for key, entry := range c.results {
				if time.Since(entry.timestamp) >= c.ttl {
					c.order.Remove(entry.element)
					delete(c.results, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (c *ResultCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

// normalizeQuery collapses whitespace so trivially reformatted queries share
// a cache entry.
func normalizeQuery(queryText string) string {
	return strings.Join(strings.Fields(strings.ToLower(queryText)), " ")
}

// CachingExecutor wraps an Executor with a ResultCache.
type CachingExecutor struct {
	inner Executor
	cache *ResultCache
}

func NewCachingExecutor(inner Executor, ttl time.Duration, maxSize int) *CachingExecutor {
	return &CachingExecutor{
		inner: inner,
		cache: NewResultCache(ttl, maxSize),
	}
}

// Run serves fresh cached results without touching the database. Errors are
// never cached.
func (e *CachingExecutor) Run(ctx context.Context, queryText string) (*Result, error) {
	if res, ok := e.cache.Get(queryText); ok {
		return res, nil
	}
	res, err := e.inner.Run(ctx, queryText)
	if err != nil {
		return nil, err
	}
	e.cache.Put(queryText, res)
	return res, nil
}

// Close releases the cache's cleanup goroutine.
func (e *CachingExecutor) Close() {
	e.cache.Close()
}
