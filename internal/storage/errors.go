package storage

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates a unique constraint violation
	// (active slug, (store, checksum), session token hash, user email).
	ErrDuplicate = errors.New("duplicate record")
)
