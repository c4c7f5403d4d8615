package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstore/internal/domain"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr(), TTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_MissThenHit(t *testing.T) {
	r, mr := newTestRedis(t, time.Hour)
	ctx := context.Background()

	_, ok, err := r.Get(ctx, "emb:absent")
	require.NoError(t, err)
	assert.False(t, ok)

	v := domain.Vector{0.25, -1, 3.5}
	require.NoError(t, r.Put(ctx, "emb:k", v))
	got, ok, err := r.Get(ctx, "emb:k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, v, got)
	assert.Equal(t, time.Hour, mr.TTL("emb:k"))
}

func TestRedis_EntriesExpire(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, "emb:k", domain.Vector{1}))
	mr.FastForward(2 * time.Minute)

	_, ok, err := r.Get(ctx, "emb:k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_CorruptValueIsAnError(t *testing.T) {
	r, mr := newTestRedis(t, 0)
	require.NoError(t, mr.Set("emb:bad", "abc"))

	_, ok, err := r.Get(context.Background(), "emb:bad")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedis_BacksCachedEmbedder(t *testing.T) {
	r, mr := newTestRedis(t, time.Hour)
	next := &countingEmbedder{}
	e := Wrap(next, r)
	ctx := context.Background()

	a, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), next.calls.Load())
	assert.True(t, mr.Exists(Key("fake", "hello")))
}

func TestRedis_CorruptEntryFallsThroughToEmbedder(t *testing.T) {
	r, mr := newTestRedis(t, time.Hour)
	require.NoError(t, mr.Set(Key("fake", "ab"), "xyz"))
	next := &countingEmbedder{}

	v, err := Wrap(next, r).Embed(context.Background(), "ab")
	require.NoError(t, err)
	assert.Equal(t, domain.Vector{2, 1}, v)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestNewRedis_UnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}
