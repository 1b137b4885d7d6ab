package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected before any work was done.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a concurrent writer won; the caller should retry the whole operation.
	ErrConflict = errors.New("concurrency conflict")
)
