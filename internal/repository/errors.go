package repository

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("repository: not found")

	// ErrConflict is returned when an optimistic update lost against a
	// concurrent writer.
	ErrConflict = errors.New("repository: conflict")
)
