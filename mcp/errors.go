package mcp

import (
	"fmt"

	"github.com/zhubert/plural-bridge/rpc"
)

// ToolInvocationError reports that the server answered a call with an error.
// Err carries the remote payload verbatim.
type ToolInvocationError struct {
	Method string
	Tool   string // empty for protocol methods such as initialize
	Err    *rpc.RPCError
}

func (e *ToolInvocationError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Method, e.Err)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a response that carried neither a result nor an
// error, or a result of the wrong shape. Raw is the offending payload.
type ProtocolError struct {
	Method string
	Raw    []byte
	Err    error // decode failure, when there was one
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol violation in %s response: %v: %s", e.Method, e.Err, truncate(e.Raw, 200))
	}
	return fmt.Sprintf("protocol violation in %s response: %s", e.Method, truncate(e.Raw, 200))
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
