// Package lock guards the ingestion run so only one executes at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
)

// ErrAlreadyRunning is matched by AlreadyRunningError through errors.Is.
var ErrAlreadyRunning = errors.New("ingestion already running")

// AlreadyRunningError reports a held critical section.
type AlreadyRunningError struct {
	Name   string
	Holder string
}

func (e *AlreadyRunningError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("lock %s: %s", e.Name, ErrAlreadyRunning)
	}
	return fmt.Sprintf("lock %s held by %s: %s", e.Name, e.Holder, ErrAlreadyRunning)
}

// Is makes errors.Is(err, ErrAlreadyRunning) succeed.
func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}

// Locker acquires the ingestion critical section without blocking.
type Locker interface {
	Acquire(ctx context.Context) (Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// IsAlreadyRunning reports whether err came from a held lock.
func IsAlreadyRunning(err error) bool {
	return errors.Is(err, ErrAlreadyRunning)
}
