package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel errors classify failures across the daemon. Callers branch on
// these with errors.Is rather than string matching.
var (
	// ErrConfig marks a malformed or missing request field. Never retried.
	ErrConfig = errors.New("configuration error")

	// ErrRuntime marks a failed container runtime call.
	ErrRuntime = errors.New("runtime error")

	// ErrNotFound marks a runtime object that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTransient marks a network failure worth retrying with backoff.
	ErrTransient = errors.New("temporarily unavailable")

	// ErrAuth marks a failed telemetry authentication. Never retried.
	ErrAuth = errors.New("authentication failed")

	// ErrConflict marks an operation rejected because another lifecycle
	// operation for the same workload is still in flight.
	ErrConflict = errors.New("operation already in progress")
)

// Config wraps err (or builds a new error from msg) as a configuration error
func Config(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Runtime wraps a runtime call failure, preserving the cause chain
func Runtime(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrRuntime, op, err)
}

// NotFound builds a not-found error for the given object
func NotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// Transient wraps a retryable network failure
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}

// IsNotFound reports whether err is (or wraps) a not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsConfig reports whether err is a configuration error
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}
