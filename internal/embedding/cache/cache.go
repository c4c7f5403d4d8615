// Package cache provides content-addressed caching for embeddings. The
// cached embedder is transparent: a miss or a cache failure falls through to
// the wrapped embedder, and embedder failures are never cached.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"ragstore/internal/domain"
)

// Cache stores embeddings keyed by a content hash.
type Cache interface {
	Get(ctx context.Context, key string) (domain.Vector, bool, error)
	Put(ctx context.Context, key string, v domain.Vector) error
}

// Embedder wraps another embedder with a Cache.
type Embedder struct {
	next   domain.Embedder
	cache  Cache
	group  singleflight.Group
	logger *log.Entry
	hits   atomic.Int64
	misses atomic.Int64
}

// Wrap returns next decorated with cache.
func Wrap(next domain.Embedder, cache Cache) *Embedder {
	return &Embedder{
		next:   next,
		cache:  cache,
		logger: log.WithField("component", "embedding-cache"),
	}
}

// Name reports the wrapped embedder's name so snapshots stay comparable.
func (e *Embedder) Name() string { return e.next.Name() }

// Embed returns the cached vector for text or computes and stores it.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.Vector, error) {
	key := Key(e.next.Name(), text)
	if v, ok := e.lookup(ctx, key); ok {
		return v, nil
	}
	val, err, _ := e.group.Do(key, func() (interface{}, error) {
		if v, ok := e.lookup(ctx, key); ok {
			return v, nil
		}
		e.misses.Add(1)
		v, err := e.next.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if err := e.cache.Put(ctx, key, v); err != nil {
			e.logger.WithError(err).Warn("cache put failed")
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(domain.Vector).Clone(), nil
}

// Stats returns hit and miss counters.
func (e *Embedder) Stats() (hits, misses int64) {
	return e.hits.Load(), e.misses.Load()
}

func (e *Embedder) lookup(ctx context.Context, key string) (domain.Vector, bool) {
	v, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.WithError(err).Warn("cache get failed")
		return nil, false
	}
	if ok {
		e.hits.Add(1)
	}
	return v, ok
}

// Key derives the cache key for text embedded by the named embedder.
func Key(embedder, text string) string {
	return fmt.Sprintf("emb:%016x", xxhash.Sum64String(embedder+"\x00"+text))
}

// Memory is a bounded in-process Cache with FIFO eviction.
type Memory struct {
	mu      sync.Mutex
	max     int
	order   []string
	entries map[string]domain.Vector
}

// NewMemory creates a memory cache holding at most max entries (0 = unbounded).
func NewMemory(max int) *Memory {
	return &Memory{max: max, entries: make(map[string]domain.Vector)}
}

func (m *Memory) Get(_ context.Context, key string) (domain.Vector, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return v.Clone(), true, nil
}

func (m *Memory) Put(_ context.Context, key string, v domain.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		m.order = append(m.order, key)
	}
	m.entries[key] = v.Clone()
	for m.max > 0 && len(m.order) > m.max {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.entries, oldest)
	}
	return nil
}

// Len returns the number of cached vectors.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
