package term

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyRunning reports Start on a session whose child is alive.
	ErrAlreadyRunning = errors.New("term: session already running")

	// ErrNotRunning reports an operation that requires a live child.
	ErrNotRunning = errors.New("term: session not running")

	// ErrSessionClosed reports use of a session after Close.
	ErrSessionClosed = errors.New("term: session closed")

	// ErrInvalidState reports a lifecycle call that the current state
	// does not permit (e.g. Start from Failed).
	ErrInvalidState = errors.New("term: invalid session state")

	// ErrNotFound reports an unknown session ID.
	ErrNotFound = errors.New("term: session not found")
)

// SpawnError reports a failed child spawn together with the underlying OS
// error, when one is identifiable.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("term: spawn failed: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Errno extracts the OS error code from the spawn failure, or 0 when the
// failure was not errno-shaped (e.g. executable not found).
func (e *SpawnError) Errno() unix.Errno {
	var errno unix.Errno
	if errors.As(e.Err, &errno) {
		return errno
	}
	return 0
}
