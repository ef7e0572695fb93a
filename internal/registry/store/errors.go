package store

import dErrors "landledger/pkg/domain-errors"

var (
	// ErrNotFound keeps store-level 404s consistent across the in-memory and
	// PostgreSQL implementations.
	ErrNotFound = dErrors.New(dErrors.CodeNotFound, "record not found")
)
