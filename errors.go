package securestore

import (
	"errors"
	"fmt"
)

// ErrEmptyPassphrase is returned when a session is opened, exported, or
// imported with an empty passphrase.
var ErrEmptyPassphrase = errors.New("passphrase cannot be empty")

// ErrNotInitialized is returned when an operation needs the session key but
// none is held, either because initialization failed or because Clear
// destroyed it.
var ErrNotInitialized = errors.New("session key not initialized")

// ErrSessionClosed is returned by any operation invoked after Close.
var ErrSessionClosed = errors.New("session is closed")

// EnvironmentError reports the failure of a platform facility the session
// cannot work without, such as the random source or a protected-memory
// enclave. It is distinct from corruption: corrupt records are absorbed as
// absence, a broken environment is surfaced.
type EnvironmentError struct {
	// Facility names what failed, e.g. "random source" or "memory enclave".
	Facility string

	// Err is the underlying cause.
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment failure in %s: %v", e.Facility, e.Err)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}
