package types

import "errors"

// Domain errors shared by every storage backend so callers can branch
// with errors.Is regardless of the configured backend.
var (
	// ErrPatternNotFound reports a lookup for a pattern id that is in
	// neither the approved nor the proposed set
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrAlreadyResolved reports an approve/reject on a proposal that
	// has already left the proposed set
	ErrAlreadyResolved = errors.New("pattern already resolved")
)
