// Package vectorstore holds passages with their embeddings in memory and
// ranks them by cosine similarity. A store is populated once, by Add or by
// Load, and is read-only afterwards; snapshots persist it across restarts.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ragstore/internal/domain"
)

// DefaultConcurrency bounds parallel embedding calls in Add.
const DefaultConcurrency = 4

// Observer receives timing for store operations. internal/metrics implements it.
type Observer interface {
	ObserveSearch(elapsed time.Duration, results int, err error)
	ObserveAdd(elapsed time.Duration, passages int, err error)
}

// Option configures a Store.
type Option func(*Store)

// WithConcurrency sets how many passages Add embeds at once.
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithObserver reports Add and Search timings to o.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// SearchOption tunes a single search.
type SearchOption func(*searchOptions)

type searchOptions struct {
	minScore    float64
	useMinScore bool
}

// WithMinScore drops results scoring below min. Without it every entry is
// ranked, however dissimilar.
func WithMinScore(min float64) SearchOption {
	return func(o *searchOptions) {
		o.minScore = min
		o.useMinScore = true
	}
}

type entry struct {
	passage domain.Passage
	vector  domain.Vector
	norm    float64
}

// Store is an in-memory vector store using brute-force cosine similarity.
type Store struct {
	mu          sync.RWMutex
	dimension   int
	embedder    string
	entries     []entry
	index       map[string]int
	concurrency int
	observer    Observer
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		index:       make(map[string]int),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of stored passages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Dimension returns the shared vector length, or 0 for an empty store.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// EmbedderName returns the name of the embedder that produced the vectors.
func (s *Store) EmbedderName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embedder
}

// Passages returns copies of the stored passages in insertion order.
func (s *Store) Passages() []domain.Passage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Passage, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.passage.Clone()
	}
	return out
}

// Add embeds every passage and inserts them in the given order. Embedding
// runs with bounded parallelism; the store is only touched once all vectors
// are in hand, so a failure leaves it exactly as it was.
func (s *Store) Add(ctx context.Context, passages []domain.Passage, embedder domain.Embedder) (err error) {
	start := time.Now()
	defer func() {
		if s.observer != nil {
			s.observer.ObserveAdd(time.Since(start), len(passages), err)
		}
	}()
	if len(passages) == 0 {
		return nil
	}
	if err := s.checkIDs(passages); err != nil {
		return err
	}

	vectors := make([]domain.Vector, len(passages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range passages {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			v, err := embedder.Embed(gctx, passages[i].Text)
			if err != nil {
				return &EmbeddingError{PassageID: passages[i].ID, Cause: err}
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dim := s.dimension
	for i, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) == 0 || len(v) != dim {
			return &DimensionMismatchError{Expected: dim, Actual: len(v), ID: passages[i].ID}
		}
	}
	for _, p := range passages {
		if _, ok := s.index[p.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
		}
	}
	for i, p := range passages {
		s.insertLocked(p, vectors[i])
	}
	s.dimension = dim
	if s.embedder == "" {
		s.embedder = embedder.Name()
	}
	return nil
}

func (s *Store) checkIDs(passages []domain.Passage) error {
	seen := make(map[string]struct{}, len(passages))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range passages {
		if p.ID == "" {
			return errors.New("passage without id")
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
		}
		if _, ok := s.index[p.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

func (s *Store) insertLocked(p domain.Passage, v domain.Vector) {
	vec := v.Clone()
	s.index[p.ID] = len(s.entries)
	s.entries = append(s.entries, entry{passage: p.Clone(), vector: vec, norm: norm(vec)})
}

// Search embeds query and returns the min(k, Len()) most similar passages,
// best first. Ties keep insertion order. k == 0 returns an empty result
// without calling the embedder. An embedder failure is returned as an
// error, never as an empty result.
func (s *Store) Search(ctx context.Context, query string, embedder domain.Embedder, k int, opts ...SearchOption) (results []domain.SearchResult, err error) {
	if k < 0 {
		return nil, ErrInvalidK
	}
	if k == 0 {
		return []domain.SearchResult{}, nil
	}
	start := time.Now()
	defer func() {
		if s.observer != nil {
			s.observer.ObserveSearch(time.Since(start), len(results), err)
		}
	}()
	qv, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.SearchVector(qv, k, opts...)
}

// SearchVector ranks stored entries against an already embedded query.
func (s *Store) SearchVector(qv domain.Vector, k int, opts ...SearchOption) ([]domain.SearchResult, error) {
	if k < 0 {
		return nil, ErrInvalidK
	}
	var o searchOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if k == 0 || len(s.entries) == 0 {
		return []domain.SearchResult{}, nil
	}
	if len(qv) != s.dimension {
		return nil, &DimensionMismatchError{Expected: s.dimension, Actual: len(qv)}
	}

	qnorm := norm(qv)
	scores := make([]float64, len(s.entries))
	idxs := make([]int, 0, len(s.entries))
	for i := range s.entries {
		scores[i] = cosine(qv, qnorm, s.entries[i].vector, s.entries[i].norm)
		if o.useMinScore && scores[i] < o.minScore {
			continue
		}
		idxs = append(idxs, i)
	}
	sort.SliceStable(idxs, func(a, b int) bool { return scores[idxs[a]] > scores[idxs[b]] })

	if k > len(idxs) {
		k = len(idxs)
	}
	results := make([]domain.SearchResult, k)
	for i := 0; i < k; i++ {
		j := idxs[i]
		results[i] = domain.SearchResult{Passage: s.entries[j].passage.Clone(), Score: scores[j]}
	}
	return results, nil
}

// Cosine returns dot(a,b) / (|a|·|b|), or 0 when either vector has zero
// length or the lengths differ.
func Cosine(a, b domain.Vector) float64 {
	if len(a) != len(b) {
		return 0
	}
	return cosine(a, norm(a), b, norm(b))
}

func cosine(a domain.Vector, na float64, b domain.Vector, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	dot := 0.0
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (na * nb)
}

func norm(v domain.Vector) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
