package vectorstore

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidK is returned when a search asks for a negative number of results.
	ErrInvalidK = errors.New("k must be non-negative")

	// ErrDuplicateID is returned when a passage ID is already present in the store or batch.
	ErrDuplicateID = errors.New("duplicate passage id")
)

// EmbeddingError reports that Add could not embed a passage. Nothing from
// the batch was inserted.
type EmbeddingError struct {
	PassageID string
	Cause     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding passage %s: %v", e.PassageID, e.Cause)
}

func (e *EmbeddingError) Unwrap() error { return e.Cause }

// CorruptStoreError reports a snapshot file that exists but cannot be parsed.
// It requires operator intervention; the store is never rebuilt over it.
type CorruptStoreError struct {
	Path  string
	Cause error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("corrupt vector store snapshot %s: %v", e.Path, e.Cause)
}

func (e *CorruptStoreError) Unwrap() error { return e.Cause }

// DimensionMismatchError reports a vector whose length disagrees with the
// store dimension, typically a snapshot built with a different embedder.
type DimensionMismatchError struct {
	Expected int
	Actual   int
	ID       string
}

func (e *DimensionMismatchError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
	}
	return fmt.Sprintf("dimension mismatch for %s: expected %d, got %d", e.ID, e.Expected, e.Actual)
}
