package storage

import "errors"

// Storage errors shared across backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStaleVersion is returned when a config swap carries a version
	// at or below the stored one. The caller must re-read and retry.
	ErrStaleVersion = errors.New("stale config version")
)
