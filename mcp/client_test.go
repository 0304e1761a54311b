package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/zhubert/plural-bridge/rpc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// connect wires a Client to an in-process Server over two pipes.
func connect(t *testing.T, setup func(*Server)) *Client {
	t.Helper()
	toServerR, toServerW := io.Pipe()
	toClientR, toClientW := io.Pipe()

	srv := NewServer(toServerR, toClientW, "test-server", WithServerLogger(testLogger()))
	if setup != nil {
		setup(srv)
	}
	go func() {
		srv.Run()
		toClientW.Close()
	}()

	tr := rpc.NewTransport(toServerW, toClientR, nil, rpc.WithLogger(testLogger()))
	tr.Start()
	t.Cleanup(func() {
		tr.Close()
		if !tr.Wait(2 * time.Second) {
			t.Error("transport readers did not exit")
		}
	})
	return NewClient(tr, WithClientLogger(testLogger()))
}

// scripted wires a Client to a peer that answers each request line with
// whatever respond returns. An empty string sends nothing.
func scripted(t *testing.T, respond func(id int64, method string, params json.RawMessage) string) *Client {
	t.Helper()
	toServerR, toServerW := io.Pipe()
	toClientR, toClientW := io.Pipe()

	var mu sync.Mutex
	go func() {
		defer toClientW.Close()
		in := bufio.NewReader(toServerR)
		for {
			line, err := in.ReadString('\n')
			if err != nil {
				return
			}
			var req struct {
				ID     *int64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if json.Unmarshal([]byte(line), &req) != nil || req.ID == nil {
				continue
			}
			if out := respond(*req.ID, req.Method, req.Params); out != "" {
				mu.Lock()
				_, err := io.WriteString(toClientW, out+"\n")
				mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	tr := rpc.NewTransport(toServerW, toClientR, nil, rpc.WithLogger(testLogger()))
	tr.Start()
	t.Cleanup(func() {
		tr.Close()
		tr.Wait(2 * time.Second)
	})
	return NewClient(tr, WithClientLogger(testLogger()))
}

func echoTool(s *Server) {
	s.AddTool(ToolDefinition{Name: "echo", Description: "Echo arguments back"},
		func(_ context.Context, args map[string]any) (*ToolCallResult, error) {
			data, err := json.Marshal(args)
			if err != nil {
				return nil, err
			}
			return TextResult(string(data)), nil
		})
}

func TestClient_Initialize(t *testing.T) {
	c := connect(t, nil)

	if c.Server() != nil {
		t.Fatal("Server() should be nil before Initialize")
	}

	result, err := c.Initialize(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if result.ServerInfo.Name != "test-server" {
		t.Errorf("ServerInfo.Name = %q, want %q", result.ServerInfo.Name, "test-server")
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("ProtocolVersion = %q, want %q", result.ProtocolVersion, ProtocolVersion)
	}
	if result.Capabilities.Tools == nil {
		t.Error("expected tools capability")
	}
	if c.Server() == nil {
		t.Error("Server() should be set after Initialize")
	}
}

func TestClient_ListTools(t *testing.T) {
	c := connect(t, func(s *Server) {
		echoTool(s)
		s.AddTool(ToolDefinition{Name: "list_pages"}, nil)
		s.AddTool(ToolDefinition{Name: "close_page"}, nil)
	})

	tools, err := c.ListTools(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}

	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
		var schema InputSchema
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil || schema.Type != "object" {
			t.Errorf("tool %s schema = %s, want an object schema", tool.Name, tool.InputSchema)
		}
	}
	want := []string{"close_page", "echo", "list_pages"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestClient_ListToolsFollowsCursor(t *testing.T) {
	c := scripted(t, func(id int64, method string, params json.RawMessage) string {
		var p ToolsListParams
		_ = json.Unmarshal(params, &p)
		switch p.Cursor {
		case "":
			return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"a"}],"nextCursor":"page2"}}`, id)
		case "page2":
			return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"b"},{"name":"c"}]}}`, id)
		}
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"bad cursor"}}`, id)
	})

	tools, err := c.ListTools(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 3 || tools[0].Name != "a" || tools[2].Name != "c" {
		t.Errorf("tools = %+v, want a, b, c", tools)
	}
}

func TestClient_ListToolsKeepsArbitrarySchemas(t *testing.T) {
	schema := `{"type":"object","properties":{"timeout":{"type":["integer","null"]},"filter":{"anyOf":[{"type":"string"},{"type":"array","items":{"type":"string"}}]}},"additionalProperties":false}`
	c := scripted(t, func(id int64, method string, params json.RawMessage) string {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"wait_for","inputSchema":%s},{"name":"bare"}]}}`, id, schema)
	})

	tools, err := c.ListTools(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if string(tools[0].InputSchema) != schema {
		t.Errorf("schema = %s, want it verbatim", tools[0].InputSchema)
	}
	if len(tools[1].InputSchema) != 0 {
		t.Errorf("missing schema should stay empty, got %s", tools[1].InputSchema)
	}
}

func TestInputSchema_JSON(t *testing.T) {
	got := InputSchema{
		Properties: map[string]Property{"url": {Type: "string"}},
		Required:   []string{"url"},
	}.JSON()

	want := `{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`
	if string(got) != want {
		t.Errorf("JSON() = %s, want %s", got, want)
	}
}

func TestClient_CallToolRoundTrip(t *testing.T) {
	c := connect(t, echoTool)

	for i := 0; i < 1000; i++ {
		args := map[string]any{"n": float64(i), "label": fmt.Sprintf("call-%d", i)}

		text, err := c.CallToolText(context.Background(), "echo", args, time.Second)
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}

		var got map[string]any
		if err := json.Unmarshal([]byte(text), &got); err != nil {
			t.Fatalf("call %d: bad echo %q: %v", i, text, err)
		}
		if got["n"] != args["n"] || got["label"] != args["label"] {
			t.Fatalf("call %d: got %v, want %v", i, got, args)
		}
	}
}

func TestClient_ConcurrentCalls(t *testing.T) {
	c := connect(t, func(s *Server) {
		// Later callers finish first
		s.AddTool(ToolDefinition{Name: "delay"}, func(_ context.Context, args map[string]any) (*ToolCallResult, error) {
			n := int(args["n"].(float64))
			time.Sleep(time.Duration(20-n) * time.Millisecond)
			return TextResult(fmt.Sprint(n)), nil
		})
	})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text, err := c.CallToolText(context.Background(), "delay", map[string]any{"n": i}, 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			if text != fmt.Sprint(i) {
				errs <- fmt.Errorf("caller %d got %q", i, text)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClient_ToolReportsError(t *testing.T) {
	c := connect(t, func(s *Server) {
		s.AddTool(ToolDefinition{Name: "navigate_page"}, func(context.Context, map[string]any) (*ToolCallResult, error) {
			return nil, errors.New("net::ERR_NAME_NOT_RESOLVED")
		})
	})

	// The raw result is still a result; only the text helper interprets isError
	raw, err := c.CallTool(context.Background(), "navigate_page", map[string]any{"url": "https://nope.invalid"}, time.Second)
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	result, err := DecodeToolResult(raw)
	if err != nil {
		t.Fatalf("DecodeToolResult failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected isError result")
	}

	_, err = c.CallToolText(context.Background(), "navigate_page", nil, time.Second)
	var invErr *ToolInvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected *ToolInvocationError, got %T: %v", err, err)
	}
	if invErr.Tool != "navigate_page" {
		t.Errorf("Tool = %q, want navigate_page", invErr.Tool)
	}
	if invErr.Err.Message != "net::ERR_NAME_NOT_RESOLVED" {
		t.Errorf("Message = %q", invErr.Err.Message)
	}
}

func TestClient_UnknownToolIsInvocationError(t *testing.T) {
	c := connect(t, echoTool)

	_, err := c.CallTool(context.Background(), "missing", nil, time.Second)

	var invErr *ToolInvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected *ToolInvocationError, got %T: %v", err, err)
	}
	if invErr.Err.Code != -32602 {
		t.Errorf("Code = %d, want -32602", invErr.Err.Code)
	}
	if string(invErr.Err.Data) != `{"tool":"missing"}` {
		t.Errorf("Data = %s, want the remote payload verbatim", invErr.Err.Data)
	}
	var rpcErr *rpc.RPCError
	if !errors.As(err, &rpcErr) {
		t.Error("ToolInvocationError should unwrap to *rpc.RPCError")
	}
}

func TestClient_ProtocolError(t *testing.T) {
	c := scripted(t, func(id int64, method string, params json.RawMessage) string {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d}`, id)
	})

	_, err := c.CallTool(context.Background(), "list_pages", nil, time.Second)

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
	if protoErr.Method != "tools/call" {
		t.Errorf("Method = %q", protoErr.Method)
	}
	if len(protoErr.Raw) == 0 {
		t.Error("expected raw payload for diagnosis")
	}
}

func TestClient_NullResultIsProtocolErrorForText(t *testing.T) {
	c := scripted(t, func(id int64, method string, params json.RawMessage) string {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":null}`, id)
	})

	raw, err := c.CallTool(context.Background(), "list_pages", nil, time.Second)
	if err != nil {
		t.Fatalf("a null result is still a result: %v", err)
	}
	if string(raw) != "null" {
		t.Errorf("raw = %s", raw)
	}

	_, err = c.CallToolText(context.Background(), "list_pages", nil, time.Second)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
}

func TestClient_Timeout(t *testing.T) {
	c := connect(t, func(s *Server) {
		s.AddTool(ToolDefinition{Name: "hang"}, func(ctx context.Context, _ map[string]any) (*ToolCallResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		echoTool(s)
	})

	start := time.Now()
	_, err := c.CallTool(context.Background(), "hang", nil, 100*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, rpc.ErrTimeout) {
		t.Fatalf("expected rpc.ErrTimeout, got %v", err)
	}
	if elapsed < 100*time.Millisecond || elapsed > time.Second {
		t.Errorf("timed out after %v, want about 100ms", elapsed)
	}

	// The connection stays usable
	if _, err := c.CallTool(context.Background(), "echo", nil, time.Second); err != nil {
		t.Errorf("call after timeout failed: %v", err)
	}
}

func TestClient_DefaultTimeoutApplies(t *testing.T) {
	c := scripted(t, func(int64, string, json.RawMessage) string { return "" })
	c.timeout = 50 * time.Millisecond

	_, err := c.CallTool(context.Background(), "anything", nil, 0)
	if !errors.Is(err, rpc.ErrTimeout) {
		t.Fatalf("expected rpc.ErrTimeout, got %v", err)
	}
}
