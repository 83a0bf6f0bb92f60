package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrEmailExists indicates the email unique constraint was violated.
	ErrEmailExists = errors.New("repository: email already exists")
)
