// Package apperr holds error kinds shared by every domain package.
package apperr

import "errors"

var (
	// ErrOptimisticConflict is returned by repositories when a versioned or
	// compare-and-set write lost a race. Callers retry with backoff.
	ErrOptimisticConflict = errors.New("optimistic concurrency conflict")

	// ErrTemporarilyUnavailable is surfaced once bounded retries against storage
	// or an external rail are exhausted.
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
)

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOptimisticConflict) || errors.Is(err, ErrTemporarilyUnavailable)
}
