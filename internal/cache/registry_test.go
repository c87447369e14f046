package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/ingestion-service/internal/cache"
)

func populate(t *testing.T, store cache.Store, reg *cache.Registry, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, store.Set(context.Background(), k, []byte(k), time.Hour))
		reg.Track(k)
	}
}

func newMemory(t *testing.T) *cache.Memory {
	t.Helper()
	m := cache.NewMemory(0)
	t.Cleanup(m.Close)
	return m
}

// ── InvalidateScope ────────────────────────────────────────────────────────

func TestInvalidateScope_LeavesOtherCountries(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t)
	reg := cache.NewRegistry(store)

	de1, de2 := cache.FilterOptionsKey("DE", tf), cache.ListingsKey("DE", tf, 1, 1)
	gb := cache.FilterOptionsKey("GB", tf)
	all := cache.FilterOptionsKey("", tf)
	populate(t, store, reg, de1, de2, gb, all)

	n, err := reg.InvalidateScope(ctx, "de")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{all, gb}, reg.Tracked())

	for _, k := range []string{de1, de2} {
		_, ok, _ := store.Get(ctx, k)
		assert.False(t, ok, "%s still cached", k)
	}
	_, ok, _ := store.Get(ctx, gb)
	assert.True(t, ok)

	n, err = reg.InvalidateScope(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{gb}, reg.Tracked())
}

func TestInvalidateScope_NothingTracked(t *testing.T) {
	reg := cache.NewRegistry(newMemory(t))
	n, err := reg.InvalidateScope(context.Background(), "NL")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInvalidateAll(t *testing.T) {
	store := newMemory(t)
	reg := cache.NewRegistry(store)
	populate(t, store, reg, cache.FilterOptionsKey("DE", tf), cache.FilterOptionsKey("", tf))

	n, err := reg.InvalidateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, reg.Len())
}

// ── Eviction callback ──────────────────────────────────────────────────────

func TestRegistry_ExpiredEntriesUntrackThemselves(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t)
	reg := cache.NewRegistry(store)

	short := cache.FilterOptionsKey("AT", tf)
	require.NoError(t, store.Set(ctx, short, []byte("x"), 50*time.Millisecond))
	reg.Track(short)
	populate(t, store, reg, cache.FilterOptionsKey("CH", tf))

	require.Eventually(t, func() bool { return reg.Len() == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{cache.FilterOptionsKey("CH", tf)}, reg.Tracked())
}

func TestRegistry_ExplicitDeleteDoesNotUntrackRewrittenKey(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t)
	reg := cache.NewRegistry(store)
	key := cache.FilterOptionsKey("BE", tf)

	populate(t, store, reg, key)
	_, err := reg.InvalidateScope(ctx, "BE")
	require.NoError(t, err)
	populate(t, store, reg, key)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{key}, reg.Tracked())
}

func TestRegistry_SyncTracksExistingQueryKeys(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t)
	de := cache.ListingsKey("DE", tf, 1, 1)
	all := cache.FilterOptionsKey("", tf)
	for _, k := range []string{de, all, cache.StalenessKey("DE"), "unrelated"} {
		require.NoError(t, store.Set(ctx, k, []byte("x"), time.Hour))
	}

	reg := cache.NewRegistry(store)
	n, err := reg.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{all, de}, reg.Tracked())

	removed, err := reg.InvalidateScope(ctx, "DE")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, ok, _ := store.Get(ctx, de)
	assert.False(t, ok)
}

func TestIsQueryKey(t *testing.T) {
	assert.True(t, cache.IsQueryKey(cache.FilterOptionsKey("GB", tf)))
	assert.True(t, cache.IsQueryKey(cache.ListingsKey("", tf, 2, 10)))
	assert.False(t, cache.IsQueryKey(cache.StalenessKey("GB")))
	assert.False(t, cache.IsQueryKey("listings:"))
}

// ── Staleness ──────────────────────────────────────────────────────────────

func TestShouldRefresh(t *testing.T) {
	reg := cache.NewRegistry(newMemory(t))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg.SetClock(func() time.Time { return now })

	global := cache.StalenessKey("")
	assert.True(t, reg.ShouldRefresh(global, 8*time.Hour), "never refreshed")

	reg.Touch(global)
	assert.False(t, reg.ShouldRefresh(global, 8*time.Hour))

	now = now.Add(8*time.Hour + time.Minute)
	assert.True(t, reg.ShouldRefresh(global, 8*time.Hour))
	assert.True(t, reg.ShouldRefresh(cache.StalenessKey("DE"), 8*time.Hour))

	last, ok := reg.LastRefresh(global)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), last)
}
