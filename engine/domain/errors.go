package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for query and retrieval failures.
var (
	ErrEmptyQuery         = errors.New("query is required")
	ErrQueryTooLong       = errors.New("query too long")
	ErrNoResults          = errors.New("no results found in any collection")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrMissingCollection  = errors.New("collection is required")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// CollectionUnavailableError reports a collection that is missing or whose
// store call failed. Retrieval recovers from it by skipping the collection.
type CollectionUnavailableError struct {
	Collection string
	Err        error
}

func (e *CollectionUnavailableError) Error() string {
	return fmt.Sprintf("collection %s unavailable: %v", e.Collection, e.Err)
}

func (e *CollectionUnavailableError) Unwrap() error { return e.Err }

// ChunkWriteError reports a single section that failed to upsert.
type ChunkWriteError struct {
	Collection string
	SectionID  string
	Err        error
}

func (e *ChunkWriteError) Error() string {
	return fmt.Sprintf("write %s/%s: %v", e.Collection, e.SectionID, e.Err)
}

func (e *ChunkWriteError) Unwrap() error { return e.Err }

// IsInvalidInput reports whether err is the caller's fault.
func IsInvalidInput(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
