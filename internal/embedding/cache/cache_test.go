package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstore/internal/domain"
)

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (c *countingEmbedder) Name() string { return "fake" }

func (c *countingEmbedder) Embed(_ context.Context, text string) (domain.Vector, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return domain.Vector{float64(len(text)), 1}, nil
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (domain.Vector, bool, error) {
	return nil, false, errors.New("down")
}
func (brokenCache) Put(context.Context, string, domain.Vector) error { return errors.New("down") }

func TestEmbedder_CachesByContent(t *testing.T) {
	next := &countingEmbedder{}
	e := Wrap(next, NewMemory(0))
	ctx := context.Background()

	a, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	_, err = e.Embed(ctx, "other")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, int32(2), next.calls.Load())
	hits, misses := e.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, "fake", e.Name())
}

func TestEmbedder_ReturnedVectorsAreNotAliased(t *testing.T) {
	e := Wrap(&countingEmbedder{}, NewMemory(0))
	ctx := context.Background()

	a, _ := e.Embed(ctx, "abc")
	a[0] = 99
	b, _ := e.Embed(ctx, "abc")
	assert.Equal(t, 3.0, b[0])
}

func TestEmbedder_ErrorsAreNotCached(t *testing.T) {
	next := &countingEmbedder{err: errors.New("quota")}
	mem := NewMemory(0)
	e := Wrap(next, mem)

	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err)

	assert.Equal(t, int32(2), next.calls.Load())
	assert.Equal(t, 0, mem.Len())
}

func TestEmbedder_BrokenCacheFallsThrough(t *testing.T) {
	next := &countingEmbedder{}
	v, err := Wrap(next, brokenCache{}).Embed(context.Background(), "ab")
	require.NoError(t, err)
	assert.Equal(t, domain.Vector{2, 1}, v)
}

func TestMemory_EvictsOldest(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "a", domain.Vector{1}))
	require.NoError(t, m.Put(ctx, "b", domain.Vector{2}))
	require.NoError(t, m.Put(ctx, "c", domain.Vector{3}))

	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok)
	v, ok, _ := m.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, domain.Vector{3}, v)
	assert.Equal(t, 2, m.Len())
}

func TestKey_DependsOnEmbedderAndText(t *testing.T) {
	assert.Equal(t, Key("a", "x"), Key("a", "x"))
	assert.NotEqual(t, Key("a", "x"), Key("b", "x"))
	assert.NotEqual(t, Key("a", "x"), Key("a", "y"))
	assert.Regexp(t, `^emb:[0-9a-f]{16}$`, Key("hashing-512", "some text"))
}

func TestVectorCodec(t *testing.T) {
	v := domain.Vector{0.1, -2.5, 3e-12}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
