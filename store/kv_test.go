package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/workflow"
)

// Both implementations satisfy the engine's store contract.
var (
	_ workflow.KV = (*MemoryKV)(nil)
	_ workflow.KV = (*RedisKV)(nil)
)

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "ws", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "ws", "k", "v1"))
	v, ok, err := kv.Get(ctx, "ws", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	// Namespaces are isolated.
	_, ok, _ = kv.Get(ctx, "other", "k")
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "ws", "k", "v2"))
	v, _, _ = kv.Get(ctx, "ws", "k")
	assert.Equal(t, "v2", v)

	require.NoError(t, kv.Delete(ctx, "ws", "k"))
	_, ok, _ = kv.Get(ctx, "ws", "k")
	assert.False(t, ok)

	// Deleting an absent key is not an error.
	assert.NoError(t, kv.Delete(ctx, "ws", "k"))
}

func TestRedisKV(t *testing.T) {
	srv := miniredis.RunT(t)
	kv := NewRedisKV(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "ws", "missing")
	require.NoError(t, err)
	assert.False(t, ok, "redis nil maps to absent, not error")

	require.NoError(t, kv.Set(ctx, "ws", "k", "v"))
	v, ok, err := kv.Get(ctx, "ws", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)

	// The stored key carries the namespace prefix.
	assert.True(t, srv.Exists("ws:k"))

	_, ok, _ = kv.Get(ctx, "other", "k")
	assert.False(t, ok)

	require.NoError(t, kv.Delete(ctx, "ws", "k"))
	_, ok, _ = kv.Get(ctx, "ws", "k")
	assert.False(t, ok)
}

func TestDialRedis(t *testing.T) {
	srv := miniredis.RunT(t)

	kv, err := DialRedis(context.Background(), srv.Addr(), "", 0)
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Set(context.Background(), "ws", "k", "v"))

	// Unreachable server fails the dial, not the first operation.
	srv.Close()
	_, err = DialRedis(context.Background(), srv.Addr(), "", 0)
	assert.Error(t, err)
}
