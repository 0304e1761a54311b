// Package browser resets a browser tool server's persistent profile to a
// known state at the start of a session.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zhubert/plural-bridge/logger"
)

// DefaultCallTimeout bounds each page tool call during cleanup.
const DefaultCallTimeout = 10 * time.Second

// ToolCaller is the slice of a tool client the cleaner needs.
type ToolCaller interface {
	CallToolText(ctx context.Context, name string, args map[string]any, timeout time.Duration) (string, error)
}

// PageTools names the remote page tools and their arguments.
type PageTools struct {
	List     string `yaml:"list"`
	Select   string `yaml:"select"`
	Close    string `yaml:"close"`
	Navigate string `yaml:"navigate"`

	IDArg    string `yaml:"id_arg"`
	URLArg   string `yaml:"url_arg"`
	BlankURL string `yaml:"blank_url"`
}

// DefaultPageTools returns the tool names used by chrome-devtools-mcp.
func DefaultPageTools() PageTools {
	return PageTools{
		List:     "list_pages",
		Select:   "select_page",
		Close:    "close_page",
		Navigate: "navigate_page",
		IDArg:    "pageId",
		URLArg:   "url",
		BlankURL: "about:blank",
	}
}

// withDefaults fills empty fields from DefaultPageTools.
func (t PageTools) withDefaults() PageTools {
	d := DefaultPageTools()
	if t.List == "" {
		t.List = d.List
	}
	if t.Select == "" {
		t.Select = d.Select
	}
	if t.Close == "" {
		t.Close = d.Close
	}
	if t.Navigate == "" {
		t.Navigate = d.Navigate
	}
	if t.IDArg == "" {
		t.IDArg = d.IDArg
	}
	if t.URLArg == "" {
		t.URLArg = d.URLArg
	}
	if t.BlankURL == "" {
		t.BlankURL = d.BlankURL
	}
	return t
}

// Report summarizes one cleanup run.
type Report struct {
	Pages     int  // pages listed at the start
	Closed    int  // pages closed successfully
	Selected  bool // the kept page was selected
	Navigated bool // the kept page was navigated to the blank URL
	Errors    int  // tool calls that failed
}

// SessionCleaner closes every page but one and blanks the survivor, so a
// reused profile starts each session the same way.
type SessionCleaner struct {
	Caller      ToolCaller
	Tools       PageTools
	CallTimeout time.Duration
	Log         *slog.Logger
}

// NewSessionCleaner creates a cleaner. Empty tool names take their defaults.
func NewSessionCleaner(caller ToolCaller, tools PageTools, log *slog.Logger) *SessionCleaner {
	if log == nil {
		log = logger.WithComponent("browser")
	}
	return &SessionCleaner{
		Caller:      caller,
		Tools:       tools.withDefaults(),
		CallTimeout: DefaultCallTimeout,
		Log:         log,
	}
}

// Clean lists the open pages, keeps the first, closes the rest and
// navigates the kept page to the blank URL. Failures are logged and counted
// in the report; Clean never fails the session.
func (c *SessionCleaner) Clean(ctx context.Context) (report Report) {
	tools := c.Tools.withDefaults()
	log := c.Log
	if log == nil {
		log = logger.WithComponent("browser")
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("session cleanup panicked", "panic", r)
			report.Errors++
		}
	}()

	text, err := c.call(ctx, tools.List, nil)
	if err != nil {
		log.Warn("failed to list pages, skipping cleanup", "error", err)
		report.Errors++
		return report
	}

	pages := ParsePageList(text)
	report.Pages = len(pages)
	if len(pages) == 0 {
		log.Debug("no open pages")
		return report
	}
	keep := pages[0]

	if len(pages) > 1 {
		log.Debug("closing extra pages", "pages", describe(pages), "keep", keep)

		if _, err := c.call(ctx, tools.Select, map[string]any{tools.IDArg: idArg(keep)}); err != nil {
			log.Warn("failed to select page", "page", keep, "error", err)
			report.Errors++
		} else {
			report.Selected = true
		}

		// Highest first, so positional ids of the pages still open stay valid
		for i := len(pages) - 1; i >= 1; i-- {
			if ctx.Err() != nil {
				log.Warn("cleanup interrupted", "error", ctx.Err())
				report.Errors++
				return report
			}
			if _, err := c.call(ctx, tools.Close, map[string]any{tools.IDArg: idArg(pages[i])}); err != nil {
				log.Warn("failed to close page", "page", pages[i], "error", err)
				report.Errors++
				continue
			}
			report.Closed++
		}
	}

	if _, err := c.call(ctx, tools.Navigate, map[string]any{tools.URLArg: tools.BlankURL}); err != nil {
		log.Warn("failed to reset page", "page", keep, "url", tools.BlankURL, "error", err)
		report.Errors++
	} else {
		report.Navigated = true
	}

	log.Info("browser session cleaned",
		"pages", report.Pages,
		"closed", report.Closed,
		"errors", report.Errors)
	return report
}

func (c *SessionCleaner) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	if c.Caller == nil {
		return "", errors.New("no tool caller")
	}
	timeout := c.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return c.Caller.CallToolText(ctx, tool, args, timeout)
}
