package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/zhubert/plural-bridge/mcp"
	"github.com/zhubert/plural-bridge/process"
	"github.com/zhubert/plural-bridge/rpc"
)

// ToolRegistrar receives the tools a freshly connected server offers.
type ToolRegistrar interface {
	RegisterTools(client *Client, tools []mcp.ToolDefinition) error
}

// RegistrarFunc adapts a function to ToolRegistrar.
type RegistrarFunc func(client *Client, tools []mcp.ToolDefinition) error

// RegisterTools calls f.
func (f RegistrarFunc) RegisterTools(client *Client, tools []mcp.ToolDefinition) error {
	return f(client, tools)
}

// ShutdownError reports a failed step of the graceful close. It is logged,
// never returned; the forced teardown always follows.
type ShutdownError struct {
	Step string
	Err  error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown %s: %v", e.Step, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

// Client is the caller-held handle to a connected tool server. It stays
// valid until the owning ConnectionManager disconnects; calls after that
// fail with rpc.ErrNotConnected.
type Client struct {
	id        string
	handle    *process.Handle
	transport *rpc.Transport
	mcp       *mcp.Client
	tools     []mcp.ToolDefinition
	log       *slog.Logger
}

// ID returns the connection id used in logs.
func (c *Client) ID() string {
	return c.id
}

// PID returns the tool server's process id.
func (c *Client) PID() int {
	return c.handle.PID()
}

// Alive reports whether the tool server process is still running.
func (c *Client) Alive() bool {
	return c.handle.Alive()
}

// Tools returns the tools discovered at connect time.
func (c *Client) Tools() []mcp.ToolDefinition {
	return slices.Clone(c.tools)
}

// Server returns the server's initialize result.
func (c *Client) Server() *mcp.InitializeResult {
	return c.mcp.Server()
}

// StderrTail returns the tool server's most recent stderr lines.
func (c *Client) StderrTail() []string {
	return c.transport.StderrTail()
}

// CallTool invokes a remote tool and returns its raw result. A zero timeout
// uses the configured call timeout. Errors are *mcp.ToolInvocationError,
// *mcp.ProtocolError, rpc.ErrTimeout, or rpc.ErrClosed when the connection
// drops mid-call.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (json.RawMessage, error) {
	return c.mcp.CallTool(ctx, name, args, timeout)
}

// CallToolText invokes a remote tool and returns its text content.
func (c *Client) CallToolText(ctx context.Context, name string, args map[string]any, timeout time.Duration) (string, error) {
	return c.mcp.CallToolText(ctx, name, args, timeout)
}
