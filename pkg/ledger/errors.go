// Copyright 2025 Certen Protocol

package ledger

import "errors"

// Sentinel errors for schema operations.
var (
	// ErrNotFound is returned when a requested key has no value.
	ErrNotFound = errors.New("ledger: not found")

	// ErrLectNotMonotonic is returned when an append to a validator's
	// LECT log would violate the monotonic-LECT invariant of spec §3:
	// the new entry neither extends the chain nor is a valid recovery
	// anchor pointing at an earlier entry.
	ErrLectNotMonotonic = errors.New("ledger: lect entry is not monotonic")

	// ErrConfigNotFound is returned when no AnchoringConfig is active
	// at the requested height.
	ErrConfigNotFound = errors.New("ledger: no anchoring config active at height")
)
