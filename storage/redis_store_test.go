package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-aggregator/models"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "pricewatch:marketplaces")
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, models.Marketplace{Name: "steam", Kind: "steam", Reputation: 1}))
	require.NoError(t, store.Save(ctx, models.Marketplace{Name: "bitskins", Kind: "static", Price: decimal.RequireFromString("11.90")}))
	require.NoError(t, store.Save(ctx, models.Marketplace{Name: "steam", Kind: "steam", Reputation: 0.8}))

	defs, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "bitskins", defs[0].Name)
	assert.True(t, decimal.RequireFromString("11.9").Equal(defs[0].Price))
	assert.Equal(t, 0.8, defs[1].Reputation)

	deleted, err := store.Delete(ctx, "steam")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "steam")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisStoreSkipsMalformedEntries(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.HSet("pricewatch:marketplaces", "broken", "{not json")
	mr.HSet("pricewatch:marketplaces", "renamed", `{"name":"other","kind":"steam"}`)

	defs, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.Close()

	_, err := store.LoadAll(context.Background())
	assert.Error(t, err)
}
