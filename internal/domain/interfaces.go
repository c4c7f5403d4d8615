package domain

import "context"

// MetadataSource is the metadata key naming the corpus resource a passage came from.
const MetadataSource = "source"

// Passage is a bounded unit of corpus text, the unit of retrieval.
type Passage struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Clone returns a deep copy of the passage.
func (p Passage) Clone() Passage {
	return Passage{ID: p.ID, Text: p.Text, Metadata: CloneMetadata(p.Metadata)}
}

// Vector is a fixed-dimension embedding.
type Vector []float64

// Clone returns a copy of v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// SearchResult represents a matching passage with its cosine similarity.
type SearchResult struct {
	Passage Passage
	Score   float64
}

// Embedder converts free text into a numeric vector representation.
// Failures must be reported as errors, never as zero vectors.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) (Vector, error)
}

// Chunker splits corpus text into passages suitable for retrieval indexing.
type Chunker interface {
	Split(text string, baseMetadata map[string]string) []Passage
}

// Completer is the opaque text-completion service the assembled prompt is handed to.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CloneMetadata copies a metadata map. A nil map yields an empty one.
func CloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
