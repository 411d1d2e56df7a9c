package client

import (
	"errors"
	"fmt"
)

// ErrClosed is returned once the connection is gone
var ErrClosed = errors.New("client: connection closed")

// RelayError is an error frame sent back by the relay
type RelayError struct {
	Code        string
	Message     string
	RequestType string
}

func (e *RelayError) Error() string {
	if e.RequestType != "" {
		return fmt.Sprintf("relay: %s (%s): %s", e.Code, e.RequestType, e.Message)
	}
	return fmt.Sprintf("relay: %s: %s", e.Code, e.Message)
}
