package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisKVStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisKVStore(client)
}

func TestRedisKVStore_SetGetDelete(t *testing.T) {
	_, kv := setupTestRedis(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "roomheating:states:1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, "roomheating:states:1", `{"entities":[]}`, time.Minute))
	val, err := kv.Get(ctx, "roomheating:states:1")
	require.NoError(t, err)
	assert.Equal(t, `{"entities":[]}`, val)

	require.NoError(t, kv.Delete(ctx, "roomheating:states:1"))
	_, err = kv.Get(ctx, "roomheating:states:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisKVStore_Expires(t *testing.T) {
	mr, kv := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", "v", 30*time.Second))
	mr.FastForward(31 * time.Second)

	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryKVStore_Expires(t *testing.T) {
	kv := NewMemoryKVStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", "v", 30*time.Second))
	val, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	now = now.Add(30 * time.Second)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryKVStore_NoTTLAndDelete(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", "v", 0))
	val, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	require.NoError(t, kv.Delete(ctx, "k"))
	require.NoError(t, kv.Delete(ctx, "missing"))
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
