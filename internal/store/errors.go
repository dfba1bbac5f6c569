package store

import "errors"

// Domain-specific errors for the blob store.
var (
	// ErrNotFound is returned when a blob has never been written.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidName is returned for blob names that are empty or contain a path separator.
	ErrInvalidName = errors.New("store: invalid blob name")

	// ErrCorrupt is returned when a blob exists but cannot be decoded.
	ErrCorrupt = errors.New("store: corrupt blob")

	// ErrUnknownBackend is returned by Open for an unrecognised storage.backend.
	ErrUnknownBackend = errors.New("store: unknown backend")
)
