package client

import "fmt"

// ConnectionState is the transport state of a Client
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Errored
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	}
	return fmt.Sprintf("ConnectionState(%d)", int32(s))
}

// JoinPhase tracks a create or join request
type JoinPhase int

const (
	JoinIdle JoinPhase = iota
	JoinInProgress
	JoinSuccess
	JoinError
)

func (p JoinPhase) String() string {
	switch p {
	case JoinIdle:
		return "idle"
	case JoinInProgress:
		return "in_progress"
	case JoinSuccess:
		return "success"
	case JoinError:
		return "error"
	}
	return fmt.Sprintf("JoinPhase(%d)", int(p))
}

// JoinState is the session membership as last reported by the relay.
// SessionID is set on success, Message on error.
type JoinState struct {
	Phase     JoinPhase
	SessionID string
	Message   string
}
