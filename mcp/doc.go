// Package mcp implements the client side of the Model Context Protocol (MCP)
// tool calls used to drive a browser-automation tool server, plus a small
// server used as a stand-in child in tests and smoke runs.
//
// # Overview
//
// The tool server runs as a child process and speaks JSON-RPC 2.0, one
// message per line, over its stdin and stdout. The rpc package owns framing
// and request correlation; this package adds the MCP methods on top:
//
//  1. Handshake: initialize, answered with the server's capabilities, then
//     the notifications/initialized notification.
//
//  2. Discovery: tools/list, following nextCursor until the list is complete.
//
//  3. Invocation: tools/call with {"name", "arguments"}.
//
// # Call Flow
//
//	caller
//	    ↓ Client.CallTool(ctx, name, args, timeout)
//	rpc.Transport.Request
//	    ↓ (one line on child stdin)
//	tool server (child process)
//	    ↓ (one line on child stdout, any order)
//	rpc read loop → pending slot for the id
//	    ↓
//	result, *ToolInvocationError or *ProtocolError
//
// # Errors
//
// A response with a result member returns the result. A response with an
// error member returns *ToolInvocationError holding the remote payload. A
// response with neither is a *ProtocolError carrying the raw line.
// Transport failures surface as rpc.ErrTimeout, rpc.ErrClosed or
// rpc.ErrNotConnected, wrapped with the method or tool name.
//
// # Timeouts
//
// Every call takes its own timeout; zero means DefaultCallTimeout (30s).
// A timeout only stops the local wait. The remote tool keeps running, and
// its eventual response is dropped.
package mcp
