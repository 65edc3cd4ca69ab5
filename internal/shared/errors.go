package shared

import "errors"

var (
	// ErrNotFound indicates a missing execution, batch or step log.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a lifecycle change is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrConflict marks a request that collides with work already queued or running.
	ErrConflict = errors.New("conflict")
)
