package flywheel

import (
	"errors"
	"fmt"
)

// ErrNoPersona is returned when an outcome contribution arrives for a user
// that has no profile (and therefore no persona hash). Aggregating such
// contributions under an empty key would pollute every cohort.
var ErrNoPersona = errors.New("user has no persona")

// ValidationError marks a business-rule failure detected before any
// persistence attempt.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientStoreError wraps a storage-layer failure (connectivity,
// serialization). Safe for the caller to retry.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// GenerationError wraps a failure or timeout of the text-generation
// capability. It carries the evidence counts gathered before the failure so
// callers can still report how much cohort context was available.
type GenerationError struct {
	Err                  error
	SimilarUsersCount    int
	SuccessPatternsCount int
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("advice generation failed (similar_users=%d, success_patterns=%d): %v",
		e.SimilarUsersCount, e.SuccessPatternsCount, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
