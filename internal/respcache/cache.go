// ABOUTME: Thread-safe TTL cache of aggregated responses keyed by correlation
// ABOUTME: id and query. Lets a client retry a recent Ask without a second fan-out.

package respcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/nlweb/nlweb-gateway/internal/schema"
)

// cacheEntry stores a cached response with its timestamp and list element.
type cacheEntry struct {
	response  *schema.AskResponse
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited store of aggregated
// responses. A doubly-linked list maintains insertion order for O(1)
// eviction of the oldest entry when the cache is full.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a response cache with the given TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// cacheKey combines the correlation id with the query so a reused id
// carrying a different query is a miss, not a stale replay.
func cacheKey(correlationID, query string) string {
	return correlationID + "\x00" + query
}

// Get returns the cached response for the (correlation id, query) pair,
// if present and not expired.
func (c *Cache) Get(correlationID, query string) (*schema.AskResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey(correlationID, query)]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return nil, false
	}
	return entry.response, true
}

// Put stores a response under its correlation id and query. An existing
// entry is refreshed; the oldest entry is evicted when the cache is at
// capacity.
func (c *Cache) Put(correlationID, query string, resp *schema.AskResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(correlationID, query)
	now := time.Now()
	if entry, exists := c.entries[key]; exists {
		entry.response = resp
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		response:  resp,
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup periodically removes expired entries until Close.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
