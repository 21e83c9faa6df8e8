// ABOUTME: Tests for the correlation-id response cache.
// ABOUTME: Covers hits, key separation, TTL expiry, eviction, refresh, close.

package respcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlweb/nlweb-gateway/internal/schema"
)

func resp(id string) *schema.AskResponse {
	return &schema.AskResponse{CorrelationID: id, Status: schema.StatusOK}
}

func TestCache_PutGet(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	c.Put("corr-1", "weather", resp("corr-1"))

	got, ok := c.Get("corr-1", "weather")
	require.True(t, ok)
	assert.Equal(t, "corr-1", got.CorrelationID)

	_, ok = c.Get("corr-2", "weather")
	assert.False(t, ok)
}

func TestCache_SameIDDifferentQueryMisses(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	c.Put("corr-1", "weather", resp("corr-1"))

	// A reused correlation id with a new query must not replay the old answer.
	_, ok := c.Get("corr-1", "news")
	assert.False(t, ok)

	_, ok = c.Get("corr-1", "weather")
	assert.True(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	defer c.Close()

	c.Put("corr-1", "q", resp("corr-1"))
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("corr-1", "q")
	assert.False(t, ok)
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Close()

	c.Put("corr-1", "q", resp("corr-1"))
	c.Put("corr-2", "q", resp("corr-2"))
	c.Put("corr-3", "q", resp("corr-3"))

	_, ok := c.Get("corr-1", "q")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get("corr-2", "q")
	assert.True(t, ok)
	_, ok = c.Get("corr-3", "q")
	assert.True(t, ok)
}

func TestCache_PutRefreshesExisting(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Close()

	c.Put("corr-1", "q", resp("corr-1"))
	c.Put("corr-2", "q", resp("corr-2"))
	c.Put("corr-1", "q", &schema.AskResponse{CorrelationID: "corr-1", Status: schema.StatusPartial})
	c.Put("corr-3", "q", resp("corr-3"))

	// corr-1 was refreshed, so corr-2 is now the oldest.
	got, ok := c.Get("corr-1", "q")
	require.True(t, ok)
	assert.Equal(t, schema.StatusPartial, got.Status)
	_, ok = c.Get("corr-2", "q")
	assert.False(t, ok)
}

func TestCache_RunCleanupRemovesExpired(t *testing.T) {
	c := New(5*time.Millisecond, 10)
	defer c.Close()

	c.Put("corr-1", "q", resp("corr-1"))
	time.Sleep(10 * time.Millisecond)
	c.runCleanup()

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Empty(t, c.entries)
	assert.Zero(t, c.order.Len())
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
