package relay

import (
	"errors"
	"fmt"

	"github.com/handoff-relay/handoff/internal/session"
)

// Wire error codes
const (
	CodeValidation        = "validation"
	CodeSessionNotFound   = "session_not_found"
	CodeTargetUnreachable = "target_unreachable"
	CodeForbidden         = "forbidden"
	CodeGroupNotFound     = "group_not_found"
	CodeUnknownType       = "unknown_type"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

var (
	// ErrTargetUnreachable means the resolved device has no live connection
	ErrTargetUnreachable = errors.New("target device is not reachable")
	// ErrTurnDisabled is returned for turn_request when no TURN server is configured
	ErrTurnDisabled = errors.New("TURN is not enabled on this server")
)

// ValidationError reports a missing or malformed field in an inbound message
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// unknownTypeError is returned for message types the relay does not handle
type unknownTypeError struct {
	msgType string
}

func (e *unknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.msgType)
}

// errorCode maps an error onto its wire code
func errorCode(err error) string {
	var verr *ValidationError
	var uerr *unknownTypeError
	switch {
	case errors.As(err, &verr):
		return CodeValidation
	case errors.As(err, &uerr):
		return CodeUnknownType
	case errors.Is(err, session.ErrNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrTargetUnreachable):
		return CodeTargetUnreachable
	case errors.Is(err, session.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, session.ErrGroupNotFound):
		return CodeGroupNotFound
	case errors.Is(err, ErrTurnDisabled):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
