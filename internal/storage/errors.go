package storage

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when an append-only record already exists.
	ErrConflict = errors.New("storage: already exists")
)
