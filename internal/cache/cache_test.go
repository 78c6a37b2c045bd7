package cache

import (
	"context"
	"testing"
	"time"

	"github.com/RishiKendai/plagcode/internal/plagiarism"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestProgressMirrorNeverRegresses(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	m := NewProgressMirror(client)

	_, ok, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Publish(ctx, "s1", 0))
	require.NoError(t, m.Publish(ctx, "s1", 42))
	require.NoError(t, m.Publish(ctx, "s1", 17))

	v, ok, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Greater(t, mr.TTL(progressKey("s1")), time.Duration(0))

	assert.Error(t, m.Publish(ctx, "s1", 101))
}

func TestProgressMirrorDisabled(t *testing.T) {
	var m *ProgressMirror
	require.NoError(t, m.Publish(context.Background(), "s1", 10))
	_, ok, err := NewProgressMirror(nil).Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := NewTokenCache(client, time.Hour)

	opts := plagiarism.Options{IgnoreComments: true}
	key := TokenKey("abc", "go", opts)
	assert.NotEqual(t, key, TokenKey("abc", "go", plagiarism.Options{IgnoreComments: true, NormalizeIdentifiers: true}))

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	tokens := plagiarism.Normalize("x := 1 // c\ny := x", "go", opts).Tokens
	require.NoError(t, c.Set(ctx, key, tokens))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, tokens, got)
	assert.True(t, mr.Exists(key))

	mr.FastForward(2 * time.Hour)
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenCacheCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	require.NoError(t, mr.Set("k", "{not json"))

	_, ok, err := NewTokenCache(client, time.Minute).Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
