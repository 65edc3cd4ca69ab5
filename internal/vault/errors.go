package vault

import (
	"errors"
	"fmt"
)

// ErrCredentialMissing matches every failed secret lookup.
var ErrCredentialMissing = errors.New("credential missing")

// CredentialMissingError reports which secret could not be resolved.
type CredentialMissingError struct {
	Name string
	Err  error
}

func (e *CredentialMissingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vault: secret %q missing", e.Name)
	}
	return fmt.Sprintf("vault: secret %q unavailable: %v", e.Name, e.Err)
}

func (e *CredentialMissingError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrCredentialMissing regardless of the cause.
func (e *CredentialMissingError) Is(target error) bool {
	return target == ErrCredentialMissing
}
