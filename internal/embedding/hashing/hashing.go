package hashing

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"ragstore/internal/domain"
)

// DefaultDimension is used when New receives a non-positive dimension.
const DefaultDimension = 512

// Embedder is a local, stateless bag-of-words embedder. Each token is hashed
// into one of Dimension buckets with a sign bit, weighted with sublinear term
// frequency and L2 normalized. Because it needs no corpus preparation, a
// reloaded snapshot and a fresh process embed queries identically.
type Embedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// New creates a hashing embedder with the given output dimension.
func New(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`),
		stopwords:    defaultStopwords(),
	}
}

// Name identifies the embedder and its dimension; snapshots record it.
func (e *Embedder) Name() string { return "hashing-" + strconv.Itoa(e.dimension) }

// Dimension returns the dimensionality of the produced vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the hashed embedding for text. Text without any indexable
// token yields the zero vector, which scores 0 against everything.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf := make(map[int]float64)
	sign := make(map[int]float64)
	for _, tok := range e.tokenize(text) {
		h := xxhash.Sum64String(tok)
		idx := int(h % uint64(e.dimension))
		tf[idx]++
		if h>>63 == 1 {
			sign[idx] = -1
		} else {
			sign[idx] = 1
		}
	}
	vec := make(domain.Vector, e.dimension)
	for idx, count := range tf {
		vec[idx] = sign[idx] * (1 + math.Log(count))
	}
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func (e *Embedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
