package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/docbridge/docbridge/internal/infrastructure/cache/redis"
)

func setupCache(t *testing.T, defaultTTL time.Duration) (*rediscache.Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := rediscache.NewFromClient(client, defaultTTL)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, mr
}

func TestSetAndGet(t *testing.T) {
	store, _ := setupCache(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", []byte("payload"), 0))

	val, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), val)
}

func TestGet_MissingKeyIsNil(t *testing.T) {
	store, _ := setupCache(t, 0)

	val, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestSet_DefaultTTL(t *testing.T) {
	store, mr := setupCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", []byte("v"), 0))
	assert.Equal(t, time.Minute, mr.TTL("k1"))

	require.NoError(t, store.Set(ctx, "k2", []byte("v"), 5*time.Second))
	assert.Equal(t, 5*time.Second, mr.TTL("k2"))
}

func TestSet_TTLExpires(t *testing.T) {
	store, mr := setupCache(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	val, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestDelete(t *testing.T) {
	store, _ := setupCache(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k1", []byte("v"), 0))

	removed, err := store.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDeletePattern(t *testing.T) {
	store, _ := setupCache(t, 0)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("app:users:%d", i), []byte("v"), 0))
	}
	require.NoError(t, store.Set(ctx, "app:orders:1", []byte("v"), 0))

	deleted, err := store.DeletePattern(ctx, "app:users:*")
	require.NoError(t, err)
	assert.Equal(t, int64(150), deleted)

	val, err := store.Get(ctx, "app:orders:1")
	require.NoError(t, err)
	assert.NotNil(t, val)
}

func TestPing(t *testing.T) {
	store, mr := setupCache(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	mr.Close()
	assert.Error(t, store.Ping(ctx))
}
