package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PlumFinder/internal/domain"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "")
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreRecordIsIdempotent(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	rec := domain.SeenRecord{Fingerprint: "ebay:1", Source: "ebay", FirstSeenDate: day("2024-05-01")}
	inserted, err := store.Record(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	rec.FirstSeenDate = day("2024-06-01")
	inserted, err = store.Record(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.Equal(t, "ebay|2024-05-01", mr.HGet(defaultSeenKey, "ebay:1"), "first-seen date is kept")
}

func TestRedisStoreQueriesAndPrune(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	for _, rec := range []domain.SeenRecord{
		{Fingerprint: "ebay:1", Source: "ebay", FirstSeenDate: day("2024-01-01")},
		{Fingerprint: "etsy:2", Source: "etsy", FirstSeenDate: day("2024-02-15")},
		{Fingerprint: "craigslist:3", Source: "craigslist", FirstSeenDate: day("2024-04-01")},
	} {
		_, err := store.Record(ctx, rec)
		require.NoError(t, err)
	}

	ok, err := store.Exists(ctx, "etsy:2")
	require.NoError(t, err)
	assert.True(t, ok)

	seen, err := store.ExistsMany(ctx, []string{"ebay:1", "nope"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"ebay:1": true}, seen)

	removed, err := store.Prune(ctx, day("2024-03-01"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	require.NoError(t, store.Reset(ctx))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	_, err := NewRedisClient("http://not-redis", 0)
	assert.Error(t, err)
}
