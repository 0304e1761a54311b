package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type call struct {
	tool string
	args map[string]any
}

// fakeBrowser keeps an ordered list of page urls addressed by position, the
// way chrome-devtools-mcp does.
type fakeBrowser struct {
	mu       sync.Mutex
	pages    []string
	selected int
	calls    []call
	failOn   map[string]error
}

func newFakeBrowser(urls ...string) *fakeBrowser {
	return &fakeBrowser{pages: urls, failOn: map[string]error{}}
}

func (f *fakeBrowser) CallToolText(_ context.Context, name string, args map[string]any, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call{tool: name, args: args})
	if err := f.failOn[name]; err != nil {
		return "", err
	}

	switch name {
	case "list_pages":
		var b strings.Builder
		b.WriteString("# list_pages response\n## Pages\n")
		for i, url := range f.pages {
			fmt.Fprintf(&b, "%d: %s", i, url)
			if i == f.selected {
				b.WriteString(" [selected]")
			}
			b.WriteString("\n")
		}
		return b.String(), nil
	case "select_page":
		idx := args["pageId"].(int)
		if idx >= len(f.pages) {
			return "", fmt.Errorf("no page %d", idx)
		}
		f.selected = idx
		return "selected", nil
	case "close_page":
		idx := args["pageId"].(int)
		if idx >= len(f.pages) {
			return "", fmt.Errorf("no page %d", idx)
		}
		if len(f.pages) == 1 {
			return "", errors.New("the last open page can not be closed")
		}
		f.pages = append(f.pages[:idx], f.pages[idx+1:]...)
		if f.selected >= len(f.pages) {
			f.selected = 0
		}
		return "closed", nil
	case "navigate_page":
		f.pages[f.selected] = args["url"].(string)
		return "navigated", nil
	}
	return "", fmt.Errorf("unknown tool %s", name)
}

func (f *fakeBrowser) count(tool string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.tool == tool {
			n++
		}
	}
	return n
}

func (f *fakeBrowser) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func TestClean_ClosesExtraPagesAndIsIdempotent(t *testing.T) {
	b := newFakeBrowser("https://a.example", "https://b.example", "https://c.example")
	c := NewSessionCleaner(b, PageTools{}, testLogger())

	report := c.Clean(context.Background())

	require.Equal(t, Report{Pages: 3, Closed: 2, Selected: true, Navigated: true}, report)
	require.Equal(t, 1, b.count("select_page"))
	require.Equal(t, 2, b.count("close_page"))
	require.Equal(t, 1, b.count("navigate_page"))
	require.Equal(t, []string{"about:blank"}, b.pages)

	// Closes go highest index first so earlier indexes stay put
	require.Equal(t, 2, b.calls[2].args["pageId"])
	require.Equal(t, 1, b.calls[3].args["pageId"])

	b.reset()
	report = c.Clean(context.Background())

	require.Equal(t, Report{Pages: 1, Navigated: true}, report)
	require.Equal(t, 0, b.count("close_page"))
	require.Equal(t, 0, b.count("select_page"))
	require.Equal(t, 1, b.count("navigate_page"))
}

func TestClean_NoPages(t *testing.T) {
	b := newFakeBrowser()
	report := NewSessionCleaner(b, PageTools{}, testLogger()).Clean(context.Background())

	require.Equal(t, Report{}, report)
	require.Len(t, b.calls, 1, "only the listing should be requested")
}

func TestClean_ListFailureIsSwallowed(t *testing.T) {
	b := newFakeBrowser("https://a.example")
	b.failOn["list_pages"] = errors.New("tool server busy")

	report := NewSessionCleaner(b, PageTools{}, testLogger()).Clean(context.Background())

	require.Equal(t, Report{Errors: 1}, report)
	require.Len(t, b.calls, 1)
}

func TestClean_CloseFailuresAreCounted(t *testing.T) {
	b := newFakeBrowser("a", "b", "c")
	b.failOn["close_page"] = errors.New("target closed")

	report := NewSessionCleaner(b, PageTools{}, testLogger()).Clean(context.Background())

	require.Equal(t, 3, report.Pages)
	require.Equal(t, 0, report.Closed)
	require.Equal(t, 2, report.Errors)
	require.True(t, report.Navigated, "the kept page is still reset")
}

func TestClean_CustomToolNames(t *testing.T) {
	var got []call
	caller := callerFunc(func(_ context.Context, name string, args map[string]any, _ time.Duration) (string, error) {
		got = append(got, call{tool: name, args: args})
		if name == "tabs" {
			return `{"pages":[{"id":"t1"},{"id":"t2"}]}`, nil
		}
		return "ok", nil
	})

	c := NewSessionCleaner(caller, PageTools{
		List:     "tabs",
		Close:    "tab_close",
		IDArg:    "tab",
		BlankURL: "chrome://newtab",
	}, testLogger())
	report := c.Clean(context.Background())

	require.Equal(t, Report{Pages: 2, Closed: 1, Selected: true, Navigated: true}, report)
	require.Equal(t, "select_page", got[1].tool)
	require.Equal(t, "t1", got[1].args["tab"])
	require.Equal(t, "tab_close", got[2].tool)
	require.Equal(t, "t2", got[2].args["tab"])
	require.Equal(t, "chrome://newtab", got[3].args["url"])
}

func TestClean_PanicIsSwallowed(t *testing.T) {
	caller := callerFunc(func(context.Context, string, map[string]any, time.Duration) (string, error) {
		panic("caller bug")
	})

	report := NewSessionCleaner(caller, PageTools{}, testLogger()).Clean(context.Background())
	require.Equal(t, 1, report.Errors)
}

func TestClean_StopsWhenContextDone(t *testing.T) {
	b := newFakeBrowser("a", "b", "c")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewSessionCleaner(b, PageTools{}, testLogger()).Clean(ctx)

	require.Equal(t, 0, report.Closed)
	require.Equal(t, 0, b.count("close_page"))
	require.GreaterOrEqual(t, report.Errors, 1)
}

type callerFunc func(ctx context.Context, name string, args map[string]any, timeout time.Duration) (string, error)

func (f callerFunc) CallToolText(ctx context.Context, name string, args map[string]any, timeout time.Duration) (string, error) {
	return f(ctx, name, args, timeout)
}
