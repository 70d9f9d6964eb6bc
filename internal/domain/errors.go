package domain

import "errors"

var (
	// ErrStatsMetaMissing is returned when the stats meta row has never been written
	ErrStatsMetaMissing = errors.New("stats meta is missing an entry")

	// ErrNotInTransaction is returned when a write sequence is attempted outside an active transaction
	ErrNotInTransaction = errors.New("operation requires an active transaction")

	// ErrGrantNotFound is returned when a grant lookup matches nothing
	ErrGrantNotFound = errors.New("grant not found")
)
