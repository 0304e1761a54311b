package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/zhubert/plural-bridge/logger"
	"github.com/zhubert/plural-bridge/rpc"
)

const (
	ServerName    = "plural-bridge-fake"
	ServerVersion = "1.0.0"
)

// ToolHandler runs one tool call. A returned error becomes a result with
// isError set, the way MCP servers report tool failures.
type ToolHandler func(ctx context.Context, args map[string]any) (*ToolCallResult, error)

type registeredTool struct {
	def     ToolDefinition
	handler ToolHandler
}

// Server is a minimal MCP tool server over a line-oriented reader and
// writer. It answers initialize, ping, tools/list and tools/call. Tool calls
// run concurrently, so responses may leave in a different order than their
// requests arrived.
type Server struct {
	reader *bufio.Reader
	writer io.Writer
	name   string
	info   string

	tools map[string]registeredTool

	ctx    context.Context
	cancel context.CancelFunc
	calls  sync.WaitGroup
	mu     sync.Mutex // guards writer
	log    *slog.Logger
}

// ServerOption is a functional option for configuring Server
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(text string) ServerOption {
	return func(s *Server) {
		s.info = text
	}
}

// NewServer creates a new MCP server reading requests from r and writing
// responses to w.
func NewServer(r io.Reader, w io.Writer, name string, opts ...ServerOption) *Server {
	if name == "" {
		name = ServerName
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		reader: bufio.NewReader(r),
		writer: w,
		name:   name,
		tools:  make(map[string]registeredTool),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.WithComponent("mcp-server")
	}
	return s
}

// AddTool registers a tool. Registering a name twice replaces the handler.
// Tools must be added before Run.
func (s *Server) AddTool(def ToolDefinition, handler ToolHandler) {
	if len(def.InputSchema) == 0 {
		def.InputSchema = InputSchema{}.JSON()
	}
	s.tools[def.Name] = registeredTool{def: def, handler: handler}
}

// Run starts the MCP server loop. It returns nil on EOF after in-flight
// tool calls finish.
func (s *Server) Run() error {
	s.log.Info("server starting", "tools", len(s.tools))
	defer func() {
		s.cancel()
		s.calls.Wait()
	}()

	for {
		line, err := s.reader.ReadString('\n')
		if err == io.EOF {
			s.log.Info("EOF received, shutting down")
			return nil
		}
		if err != nil {
			s.log.Error("read error", "error", err)
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.log.Debug("received message", "line", line)

		var req JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.log.Error("JSON parse error", "error", err)
			s.sendError(nil, -32700, "Parse error", nil)
			continue
		}

		s.handleRequest(&req)
	}
}

func (s *Server) handleRequest(req *JSONRPCRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "notifications/initialized", "initialized":
		// Notification, no response needed
		s.log.Debug("initialized notification received")
	case "ping":
		s.sendResult(req.ID, struct{}{})
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolsCall(req)
	default:
		if req.ID == nil {
			s.log.Debug("ignoring notification", "method", req.Method)
			return
		}
		s.log.Warn("unknown method", "method", req.Method)
		s.sendError(req.ID, -32601, "Method not found", nil)
	}
}

func (s *Server) handleInitialize(req *JSONRPCRequest) {
	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capability{
			Tools: &ToolCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    s.name,
			Version: ServerVersion,
		},
		Instructions: s.info,
	}

	s.sendResult(req.ID, result)
}

func (s *Server) handleToolsList(req *JSONRPCRequest) {
	tools := make([]ToolDefinition, 0, len(s.tools))
	for _, t := range s.tools {
		tools = append(tools, t.def)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	s.sendResult(req.ID, ToolsListResult{Tools: tools})
}

func (s *Server) handleToolsCall(req *JSONRPCRequest) {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.log.Error("failed to parse tool call params", "error", err)
		s.sendError(req.ID, -32602, "Invalid params", nil)
		return
	}

	tool, ok := s.tools[params.Name]
	if !ok {
		s.log.Warn("unknown tool", "tool", params.Name)
		s.sendError(req.ID, -32602, "Unknown tool", map[string]string{"tool": params.Name})
		return
	}

	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		s.runTool(req.ID, params, tool.handler)
	}()
}

func (s *Server) runTool(id any, params ToolCallParams, handler ToolHandler) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tool handler panicked", "tool", params.Name, "panic", r)
			s.sendError(id, -32603, "Internal error", fmt.Sprint(r))
		}
	}()

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}
	result, err := handler(s.ctx, args)
	if err != nil {
		s.log.Debug("tool returned error", "tool", params.Name, "error", err)
		s.sendToolResult(id, true, err.Error())
		return
	}
	if result == nil {
		result = &ToolCallResult{Content: []ContentItem{}}
	}
	s.sendResult(id, result)
}

func (s *Server) sendToolResult(id any, isError bool, text string) {
	toolResult := ToolCallResult{
		Content: []ContentItem{
			{
				Type: "text",
				Text: text,
			},
		},
		IsError: isError,
	}
	s.sendResult(id, toolResult)
}

func (s *Server) sendResult(id any, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}

	s.send(resp)
}

func (s *Server) sendError(id any, code int, message string, data any) {
	rpcErr := &rpc.RPCError{
		Code:    code,
		Message: message,
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			rpcErr.Data = raw
		}
	}

	s.send(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcErr,
	})
}

func (s *Server) send(resp JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = fmt.Fprintf(s.writer, "%s\n", data)
	if err != nil {
		s.log.Error("failed to write response", "error", err)
	} else {
		s.log.Debug("sent response", "data", string(data))
	}
}
