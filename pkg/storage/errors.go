package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when no execution with the requested ID exists
	// for the caller's tenant.
	ErrNotFound = errors.New("execution not found")

	// ErrConflict is returned when an execution with the same request ID was
	// already recorded.
	ErrConflict = errors.New("execution already recorded")
)
