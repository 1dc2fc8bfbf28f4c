package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/projectmemory/pkg/embedding/cache"
	"github.com/S-Corkum/projectmemory/pkg/observability"
)

func TestSetGet_RoundTrips(t *testing.T) {
	c, err := cache.New("", 10, time.Hour, 0.1, observability.NewNoopLogger())
	require.NoError(t, err)

	key := cache.Key("hello world", "model-a")
	err = c.Set(context.Background(), key, cache.Entry{Vector: []float32{1, 2, 3}, Model: "model-a", Content: "hello world"})
	require.NoError(t, err)

	got, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got.Vector)
	assert.Equal(t, int64(1), got.AccessCount)
}

func TestGet_Miss(t *testing.T) {
	c, err := cache.New("", 10, time.Hour, 0.1, observability.NewNoopLogger())
	require.NoError(t, err)

	_, ok, err := c.Get(context.Background(), cache.Key("nope", "model-a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKey_IsDeterministicAndModelScoped(t *testing.T) {
	k1 := cache.Key("same text", "model-a")
	k2 := cache.Key("same text", "model-a")
	k3 := cache.Key("same text", "model-b")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3, "cache key must be scoped by model name, per spec section 4.4's H(content || model_name)")
}

func TestEviction_RemovesOldestTenPercentAtCapacity(t *testing.T) {
	c, err := cache.New("", 10, time.Hour, 0.1, observability.NewNoopLogger())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		key := cache.Key(string(rune('a'+i)), "m")
		require.NoError(t, c.Set(ctx, key, cache.Entry{Vector: []float32{float32(i)}, Model: "m", Content: string(rune('a' + i))}))
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, int64(10), c.Stats().Size)

	firstKey := cache.Key("a", "m")
	require.NoError(t, c.Set(ctx, cache.Key("k", "m"), cache.Entry{Vector: []float32{99}, Model: "m", Content: "k"}))

	_, ok, err := c.Get(ctx, firstKey)
	require.NoError(t, err)
	assert.False(t, ok, "the oldest entry by last_accessed_at must be evicted on insert at capacity")
	assert.LessOrEqual(t, c.Stats().Size, int64(10))
}

func TestFallbackKeys_OnlyReturnsFallbackEntries(t *testing.T) {
	c, err := cache.New("", 10, time.Hour, 0.1, observability.NewNoopLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, cache.Key("primary", "m"), cache.Entry{Vector: []float32{1}, Model: "m", Content: "primary"}))
	require.NoError(t, c.Set(ctx, cache.Key("fallback", "m"), cache.Entry{Vector: []float32{2}, Model: "m", Content: "fallback", IsFallback: true}))

	keys, err := c.FallbackKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{cache.Key("fallback", "m")}, keys)
}
