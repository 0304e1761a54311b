package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/zhubert/plural-bridge/browser"
	"github.com/zhubert/plural-bridge/logger"
	"github.com/zhubert/plural-bridge/mcp"
)

// The test binary doubles as the tool server child. GO_WANT_HELPER_PROCESS
// selects the role:
//
//	toolserver  MCP server with the fake page tools plus echo, argv, block
//	            and child_pid; HELPER_PAGES holds comma separated urls,
//	            HELPER_IGNORE_EOF keeps it alive after stdin closes and
//	            HELPER_SPAWN_CHILD starts a sleeping descendant
//	sleep       sleeps; used as a descendant or an orphan
//	crash       writes to stderr and exits
//	silent      reads stdin and never answers
func TestMain(m *testing.M) {
	if role := os.Getenv("GO_WANT_HELPER_PROCESS"); role != "" {
		logger.Init(os.DevNull)
		os.Exit(runHelper(role))
	}

	// Keep test runs out of the real log directory
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}

func runHelper(role string) int {
	switch role {
	case "toolserver":
		return runToolServer()
	case "sleep":
		time.Sleep(time.Hour)
		return 0
	case "crash":
		fmt.Fprintln(os.Stderr, "fatal: could not find a browser executable")
		return 3
	case "silent":
		_, _ = io.Copy(io.Discard, os.Stdin)
		return 0
	}
	fmt.Fprintf(os.Stderr, "unknown helper role %q\n", role)
	return 2
}

func runToolServer() int {
	var child *exec.Cmd
	if os.Getenv("HELPER_SPAWN_CHILD") == "1" {
		child = exec.Command(os.Args[0])
		child.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=sleep", "HELPER_SPAWN_CHILD=")
		if err := child.Start(); err != nil {
			fmt.Fprintln(os.Stderr, "starting child:", err)
			return 1
		}
	}

	var pages []string
	if v := os.Getenv("HELPER_PAGES"); v != "" {
		pages = strings.Split(v, ",")
	}

	server := mcp.NewServer(os.Stdin, os.Stdout, "helper-browser",
		mcp.WithServerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	browser.NewFakeBrowser(pages...).Install(server, browser.PageTools{})

	server.AddTool(mcp.ToolDefinition{Name: "echo", Description: "Return the arguments"},
		func(_ context.Context, args map[string]any) (*mcp.ToolCallResult, error) {
			data, err := json.Marshal(args)
			if err != nil {
				return nil, err
			}
			return mcp.TextResult(string(data)), nil
		})
	server.AddTool(mcp.ToolDefinition{Name: "argv", Description: "Return the command line"},
		func(context.Context, map[string]any) (*mcp.ToolCallResult, error) {
			return mcp.TextResult(strings.Join(os.Args[1:], "\n")), nil
		})
	server.AddTool(mcp.ToolDefinition{Name: "block", Description: "Never return"},
		func(context.Context, map[string]any) (*mcp.ToolCallResult, error) {
			time.Sleep(time.Hour)
			return nil, nil
		})
	server.AddTool(mcp.ToolDefinition{Name: "child_pid", Description: "Pid of the sleeping descendant"},
		func(context.Context, map[string]any) (*mcp.ToolCallResult, error) {
			if child == nil {
				return nil, errors.New("no child")
			}
			return mcp.TextResult(fmt.Sprint(child.Process.Pid)), nil
		})

	if err := server.Run(); err != nil {
		return 1
	}

	if os.Getenv("HELPER_IGNORE_EOF") == "1" {
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Hour)
	}
	return 0
}
