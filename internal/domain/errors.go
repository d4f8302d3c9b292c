package domain

import "errors"

// Sentinel errors shared by the storage backends.
var (
	ErrNotFound = errors.New("domain: not found")
	// ErrConflict reports a duplicate record id or (tenant, sequence) pair.
	ErrConflict = errors.New("domain: conflict")
)
