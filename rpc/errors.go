package rpc

import "errors"

var (
	// ErrNotConnected is returned when writing with no live stdin.
	ErrNotConnected = errors.New("not connected")

	// ErrTimeout is returned when a response does not arrive in time.
	// The remote call is not cancelled; only the local wait stops.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed fails requests still waiting when the transport shuts down.
	ErrClosed = errors.New("transport closed")

	// ErrMalformedMessage marks a line that could not be parsed. It is
	// logged by the read loop and never returned to callers.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownRequest is returned when waiting on an id that was never
	// registered or has already been consumed.
	ErrUnknownRequest = errors.New("unknown request id")
)
