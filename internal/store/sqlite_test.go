// ABOUTME: Tests for the SQLite provider catalog store.
// ABOUTME: Covers save/list/delete round trips and duplicate/missing id errors.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(id string) *ProviderRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &ProviderRecord{
		ID:           id,
		Name:         "Weather Service",
		Capabilities: []string{"weather", "forecast"},
		Endpoint:     "http://localhost:9000/ask",
		RegisteredAt: now,
		UpdatedAt:    now,
	}
}

func TestSQLiteStore_SaveAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProvider(ctx, testRecord("prov-b")))
	require.NoError(t, s.SaveProvider(ctx, testRecord("prov-a")))

	recs, err := s.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Ordered by id
	assert.Equal(t, "prov-a", recs[0].ID)
	assert.Equal(t, "prov-b", recs[1].ID)
	assert.Equal(t, []string{"weather", "forecast"}, recs[0].Capabilities)
	assert.Equal(t, "http://localhost:9000/ask", recs[0].Endpoint)
	assert.False(t, recs[0].RegisteredAt.IsZero())
}

func TestSQLiteStore_SaveDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProvider(ctx, testRecord("prov-a")))
	err := s.SaveProvider(ctx, testRecord("prov-a"))
	assert.ErrorIs(t, err, ErrDuplicateProvider)
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProvider(ctx, testRecord("prov-a")))
	require.NoError(t, s.DeleteProvider(ctx, "prov-a"))

	recs, err := s.ListProviders(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	assert.ErrorIs(t, s.DeleteProvider(ctx, "prov-a"), ErrNotFound)
	assert.ErrorIs(t, s.DeleteProvider(ctx, "never-existed"), ErrNotFound)
}
