package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown or expired sessions
	ErrNotFound = errors.New("session not found")
	// ErrForbidden is returned when a request references a device outside the session
	ErrForbidden = errors.New("device is not a member of this session")
	// ErrGroupNotFound is returned for unknown group ids
	ErrGroupNotFound = errors.New("group not found")
	// ErrCodeSpaceExhausted is returned when no free join code was found
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique session code")
)

// TransitionError reports an invalid session state transition
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session transition from %s to %s", e.From, e.To)
}
