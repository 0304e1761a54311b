package manager

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a ConnectionManager.
type State int

const (
	// StateDisconnected means no child is running; Connect may be called.
	StateDisconnected State = iota

	// StateConnecting covers spawn, handshake, tool discovery and cleanup.
	StateConnecting

	// StateConnected means a Client is available for tool calls.
	StateConnected

	// StateDisconnecting covers graceful close, tree termination and the
	// orphan sweep.
	StateDisconnecting
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Event drives a state transition.
type Event int

const (
	EventConnect Event = iota
	EventConnected
	EventConnectFailed
	EventDisconnect
	EventDisconnected
)

// String returns a human-readable name for the event.
func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnect:
		return "disconnect"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned by Transition for an event the current
// state does not accept.
var ErrInvalidTransition = errors.New("invalid state transition")

// Transition returns the state that follows from applying e in s.
// Disconnecting accepts a repeated disconnect so a teardown that was
// interrupted can be retried.
func Transition(s State, e Event) (State, error) {
	switch {
	case s == StateDisconnected && e == EventConnect:
		return StateConnecting, nil
	case s == StateConnecting && e == EventConnected:
		return StateConnected, nil
	case s == StateConnecting && e == EventConnectFailed:
		return StateDisconnected, nil
	case s == StateConnected && e == EventDisconnect:
		return StateDisconnecting, nil
	case s == StateDisconnecting && e == EventDisconnect:
		return StateDisconnecting, nil
	case s == StateDisconnecting && e == EventDisconnected:
		return StateDisconnected, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}
