package storage

import "errors"

// Store errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a payload is persisted under an id
	// that is already taken. Pending payloads are never overwritten.
	ErrDuplicateKey = errors.New("duplicate key: pending payload already exists")

	// ErrInvalidInput is returned when a record fails validation.
	ErrInvalidInput = errors.New("invalid input")
)
