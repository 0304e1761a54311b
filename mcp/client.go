package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhubert/plural-bridge/logger"
	"github.com/zhubert/plural-bridge/rpc"
)

const (
	ProtocolVersion = "2024-11-05"
	ClientName      = "plural-bridge"
	ClientVersion   = "1.0.0"

	// DefaultCallTimeout applies when a call passes a zero timeout.
	DefaultCallTimeout = 30 * time.Second

	// maxToolPages bounds tools/list pagination against a server that keeps
	// returning a cursor.
	maxToolPages = 100
)

// Client issues MCP requests over a Transport. Calls are independent and
// safe to make concurrently.
type Client struct {
	transport *rpc.Transport
	log       *slog.Logger
	timeout   time.Duration
	info      ClientInfo

	mu     sync.Mutex
	server *InitializeResult
}

// ClientOption is a functional option for configuring Client
type ClientOption func(*Client)

// WithCallTimeout sets the timeout used when a call passes zero.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClientInfo sets the name and version reported in initialize.
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.info = ClientInfo{Name: name, Version: version}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a client over t. The transport must already be started.
func NewClient(t *rpc.Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: t,
		timeout:   DefaultCallTimeout,
		info:      ClientInfo{Name: ClientName, Version: ClientVersion},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.WithComponent("mcp")
	}
	return c
}

// Initialize performs the MCP handshake: initialize, then the initialized
// notification.
func (c *Client) Initialize(ctx context.Context, timeout time.Duration) (*InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    Capability{},
		ClientInfo:      c.info,
	}
	raw, err := c.call(ctx, "initialize", "", params, timeout)
	if err != nil {
		return nil, err
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Method: "initialize", Raw: raw, Err: err}
	}
	if result.ProtocolVersion != ProtocolVersion {
		// Not fatal: mismatched dialects surface as call errors
		c.log.Warn("server negotiated a different protocol version",
			"requested", ProtocolVersion, "server", result.ProtocolVersion)
	}

	if err := c.transport.Notify("notifications/initialized", nil); err != nil {
		return nil, fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.mu.Lock()
	c.server = &result
	c.mu.Unlock()

	c.log.Info("tool server initialized",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion)
	return &result, nil
}

// Server returns the initialize result, or nil before Initialize succeeds.
func (c *Client) Server() *InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// ListTools returns every tool the server offers, following pagination
// cursors.
func (c *Client) ListTools(ctx context.Context, timeout time.Duration) ([]ToolDefinition, error) {
	var tools []ToolDefinition
	cursor := ""
	for page := 0; page < maxToolPages; page++ {
		var params any
		if cursor != "" {
			params = ToolsListParams{Cursor: cursor}
		}
		raw, err := c.call(ctx, "tools/list", "", params, timeout)
		if err != nil {
			return nil, err
		}

		var result ToolsListResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, &ProtocolError{Method: "tools/list", Raw: raw, Err: err}
		}
		tools = append(tools, result.Tools...)

		if result.NextCursor == "" || result.NextCursor == cursor {
			break
		}
		cursor = result.NextCursor
	}
	c.log.Debug("listed tools", "count", len(tools))
	return tools, nil
}

// CallTool invokes a tool and returns its raw result. A zero timeout uses
// the client default. Errors are *ToolInvocationError when the server
// reports failure, *ProtocolError for malformed replies, and rpc.ErrTimeout
// or rpc.ErrClosed from the transport.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	return c.call(ctx, "tools/call", name, ToolCallParams{Name: name, Arguments: args}, timeout)
}

// CallToolText invokes a tool and returns its text content. A result flagged
// isError is returned as a *ToolInvocationError.
func (c *Client) CallToolText(ctx context.Context, name string, args map[string]any, timeout time.Duration) (string, error) {
	raw, err := c.CallTool(ctx, name, args, timeout)
	if err != nil {
		return "", err
	}
	result, err := DecodeToolResult(raw)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", &ToolInvocationError{
			Method: "tools/call",
			Tool:   name,
			Err:    &rpc.RPCError{Message: result.Text(), Raw: raw},
		}
	}
	return result.Text(), nil
}

// DecodeToolResult parses a tools/call result.
func DecodeToolResult(raw json.RawMessage) (*ToolCallResult, error) {
	var result *ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Method: "tools/call", Raw: raw, Err: err}
	}
	if result == nil {
		return nil, &ProtocolError{Method: "tools/call", Raw: raw}
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, method, tool string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	resp, err := c.transport.Request(ctx, method, params, timeout)
	if err != nil {
		if tool != "" {
			return nil, fmt.Errorf("tool %s: %w", tool, err)
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	switch {
	case resp.HasResult():
		return resp.Result, nil
	case resp.Error != nil:
		c.log.Debug("server returned error", "method", method, "tool", tool, "error", resp.Error)
		return nil, &ToolInvocationError{Method: method, Tool: tool, Err: resp.Error}
	default:
		return nil, &ProtocolError{Method: method, Raw: resp.Raw}
	}
}
