// Package embedding holds what every embedder implementation shares: the
// service error type and helpers to classify it.
package embedding

import (
	"errors"
	"fmt"
)

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("no embedding returned")

// ServiceError reports a failure of the embedding service (network, quota,
// model). Callers decide whether to retry; nothing in this module
// substitutes a zero vector for a failed call.
type ServiceError struct {
	Provider string
	Cause    error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("embedding service %s: %v", e.Provider, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// NewServiceError wraps cause as a ServiceError unless it already is one.
func NewServiceError(provider string, cause error) error {
	if cause == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(cause, &se) {
		return cause
	}
	return &ServiceError{Provider: provider, Cause: cause}
}

// IsServiceError reports whether err carries a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
