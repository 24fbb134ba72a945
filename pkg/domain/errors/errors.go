package errors

import "errors"

var (
	// requested resource is not found.
	ErrMissing = errors.New("missing")

	// requested resource is found more than expected.
	ErrTooMuch = errors.New("too much")

	// node config does not satisfy the schema of its type.
	ErrInvalidConfig = errors.New("invalid node config")

	// the write conflicts with existing data.
	ErrConflict = errors.New("conflict")

	// the entry has been superseded by another version.
	ErrOutdated = errors.New("entry is outdated")

	// the state observed breaks an invariant which should be kept by locks or constraints.
	//
	// This is fatal for the unit of work and should be investigated manually.
	ErrInvariantViolation = errors.New("invariant violation")
)
