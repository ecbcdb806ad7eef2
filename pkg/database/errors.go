// Package database provides sentinel errors for repository operations.
// Explicit errors instead of nil, nil returns.

package database

import "errors"

var (
	// ErrNotFound is returned when a requested entity is not found in the database.
	ErrNotFound = errors.New("entity not found")

	// ErrTransactionNotFound is returned when an anchoring transaction record is not found.
	ErrTransactionNotFound = errors.New("anchoring transaction not found")

	// ErrConfigNotFound is returned when a config history entry is not found.
	ErrConfigNotFound = errors.New("config history entry not found")
)
