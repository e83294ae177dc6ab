package store

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a state-machine transition that lost a race, for
	// example committing SENDING on a row cancelled after its claim.
	ErrConflict = errors.New("conflicting state transition")
)
