package harvest

import (
	"errors"
	"fmt"
)

// Transient source failures. They are retried per mirror.
var (
	ErrBadStatus = errors.New("unexpected response status")
	ErrEmptyBody = errors.New("response body is empty or unreadable")
	ErrParsePage = errors.New("page parse failed")
)

// Invariant failures. They are never retried and always surface to the caller.
var (
	// ErrNoMirrors is returned when a race is started without endpoints.
	ErrNoMirrors = &InvariantError{Op: "race", Reason: "no candidate mirrors"}

	// errInvariant is the target every InvariantError matches under errors.Is.
	errInvariant = errors.New("internal invariant violated")
)

// SourceError reports a mirror whose retry budget was exhausted.
type SourceError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// InvariantError is an operational failure that should never be silent.
type InvariantError struct {
	Op     string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated: %s", e.Op, e.Reason)
}

// Is lets errors.Is match any InvariantError against the shared sentinel.
func (e *InvariantError) Is(target error) bool {
	return target == errInvariant
}

// IsInvariant reports whether err carries an InvariantError.
func IsInvariant(err error) bool {
	return errors.Is(err, errInvariant)
}
