package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/zhubert/plural-bridge/mcp"
)

// FakeBrowser is an in-memory page list served through the page tools. It
// stands in for a real browser tool server in tests and in serve-fake.
type FakeBrowser struct {
	mu       sync.Mutex
	pages    []string
	selected int
}

// NewFakeBrowser returns a browser with one page open per url.
func NewFakeBrowser(urls ...string) *FakeBrowser {
	return &FakeBrowser{pages: append([]string(nil), urls...)}
}

// Pages returns the open page urls in order.
func (f *FakeBrowser) Pages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pages...)
}

// Install registers the page tools on s under the names in tools.
func (f *FakeBrowser) Install(s *mcp.Server, tools PageTools) {
	tools = tools.withDefaults()
	idProp := map[string]mcp.Property{
		tools.IDArg: {Type: "number", Description: "Index of the page in list_pages"},
	}

	s.AddTool(mcp.ToolDefinition{
		Name:        tools.List,
		Description: "List the open pages",
	}, func(context.Context, map[string]any) (*mcp.ToolCallResult, error) {
		return mcp.TextResult(f.listing()), nil
	})

	s.AddTool(mcp.ToolDefinition{
		Name:        tools.Select,
		Description: "Select a page as the context for later calls",
		InputSchema: mcp.InputSchema{Properties: idProp, Required: []string{tools.IDArg}}.JSON(),
	}, func(_ context.Context, args map[string]any) (*mcp.ToolCallResult, error) {
		idx, err := f.index(args[tools.IDArg])
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.selected = idx
		f.mu.Unlock()
		return mcp.TextResult(fmt.Sprintf("Selected page %d", idx)), nil
	})

	s.AddTool(mcp.ToolDefinition{
		Name:        tools.Close,
		Description: "Close a page",
		InputSchema: mcp.InputSchema{Properties: idProp, Required: []string{tools.IDArg}}.JSON(),
	}, func(_ context.Context, args map[string]any) (*mcp.ToolCallResult, error) {
		idx, err := f.index(args[tools.IDArg])
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.pages) == 1 {
			return nil, errors.New("the last open page can not be closed")
		}
		f.pages = append(f.pages[:idx], f.pages[idx+1:]...)
		if f.selected >= len(f.pages) {
			f.selected = 0
		}
		return mcp.TextResult(fmt.Sprintf("Closed page %d", idx)), nil
	})

	s.AddTool(mcp.ToolDefinition{
		Name:        tools.Navigate,
		Description: "Navigate the selected page",
		InputSchema: mcp.InputSchema{
			Properties: map[string]mcp.Property{tools.URLArg: {Type: "string"}},
			Required:   []string{tools.URLArg},
		}.JSON(),
	}, func(_ context.Context, args map[string]any) (*mcp.ToolCallResult, error) {
		url, _ := args[tools.URLArg].(string)
		if url == "" {
			return nil, errors.New("url is required")
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.pages) == 0 {
			f.pages = []string{url}
		} else {
			f.pages[f.selected] = url
		}
		return mcp.TextResult("Navigated to " + url), nil
	})

	s.AddTool(mcp.ToolDefinition{
		Name:        "new_page",
		Description: "Open a page",
		InputSchema: mcp.InputSchema{Properties: map[string]mcp.Property{tools.URLArg: {Type: "string"}}}.JSON(),
	}, func(_ context.Context, args map[string]any) (*mcp.ToolCallResult, error) {
		url, _ := args[tools.URLArg].(string)
		if url == "" {
			url = tools.BlankURL
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.pages = append(f.pages, url)
		f.selected = len(f.pages) - 1
		return mcp.TextResult(fmt.Sprintf("Opened page %d", f.selected)), nil
	})
}

// listing renders the pages the way chrome-devtools-mcp does.
func (f *FakeBrowser) listing() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var b strings.Builder
	b.WriteString("## Pages\n")
	for i, url := range f.pages {
		fmt.Fprintf(&b, "%d: %s", i, url)
		if i == f.selected {
			b.WriteString(" [selected]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (f *FakeBrowser) index(v any) (int, error) {
	var idx int
	switch n := v.(type) {
	case float64:
		idx = int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("bad page id %q", n)
		}
		idx = i
	default:
		return 0, fmt.Errorf("bad page id %v", v)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if idx < 0 || idx >= len(f.pages) {
		return 0, fmt.Errorf("no page with id %d", idx)
	}
	return idx, nil
}
