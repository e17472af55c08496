package domain

import "errors"

var (
	// ErrInvalidIdentifier rejects zero product ids and malformed inputs.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrRangeViolation rejects quantities outside the configured bounds.
	ErrRangeViolation = errors.New("quantity out of range")

	// ErrScopeResolution means no shop context was supplied and no ambient
	// default is configured, or the topology lookup failed.
	ErrScopeResolution = errors.New("scope resolution failed")

	// ErrConcurrentConflict surfaces after the bounded mutation retry is
	// exhausted. Callers reserving stock must treat it as a hard failure.
	ErrConcurrentConflict = errors.New("concurrent write conflict")

	// ErrStorageUnavailable wraps backing-store failures.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrAggregateRowWrite rejects external writes to the variant 0 row of a
	// product that has variant rows; that row is derived by the recompute.
	ErrAggregateRowWrite = errors.New("aggregate row is derived and cannot be written directly")
)
