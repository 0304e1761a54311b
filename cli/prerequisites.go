// Package cli checks that the executables the bridge launches are installed.
package cli

import (
	"context"
	"fmt"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhubert/plural-bridge/config"
	"github.com/zhubert/plural-bridge/exec"
)

const nodeInstallURL = "https://nodejs.org/en/download"

// versionTimeout bounds each version lookup. npx answers quickly but a
// misconfigured command may not.
const versionTimeout = 5 * time.Second

// Prerequisite represents an executable the tool server needs
type Prerequisite struct {
	Name        string // Command name or path (e.g., "npx", "/usr/bin/node")
	Required    bool   // Whether the tool server can not start without it
	Description string // Human-readable description
	InstallURL  string // URL for installation instructions
}

// Prerequisites returns the executables needed to launch the configured
// tool server. The launcher itself is always required; npm-based launchers
// also need node.
func Prerequisites(cfg config.Browser) []Prerequisite {
	launcher := Prerequisite{
		Name:        cfg.Command,
		Required:    true,
		Description: "Tool server launcher",
	}

	var extra []Prerequisite
	switch strings.TrimSuffix(filepath.Base(cfg.Command), ".cmd") {
	case "npx", "npm":
		launcher.Description = "npm package runner"
		launcher.InstallURL = nodeInstallURL
		extra = append(extra, Prerequisite{
			Name:        "node",
			Required:    true,
			Description: "Node.js runtime",
			InstallURL:  nodeInstallURL,
		})
	case "node":
		launcher.Description = "Node.js runtime"
		launcher.InstallURL = nodeInstallURL
	}

	return append([]Prerequisite{launcher}, extra...)
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// Checker looks up prerequisites in PATH and asks them for their version.
type Checker struct {
	executor exec.CommandExecutor
}

// NewChecker returns a Checker that runs version queries through executor.
// A nil executor uses the package default.
func NewChecker(executor exec.CommandExecutor) *Checker {
	if executor == nil {
		executor = exec.GetDefaultExecutor()
	}
	return &Checker{executor: executor}
}

// Check verifies that an executable is available in PATH
func (c *Checker) Check(ctx context.Context, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	if prereq.Name == "" {
		result.Error = fmt.Errorf("no command configured")
		return result
	}

	path, err := osexec.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = c.version(ctx, path)

	return result
}

// CheckAll verifies all prerequisites and returns results
func (c *Checker) CheckAll(ctx context.Context, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = c.Check(ctx, prereq)
	}
	return results
}

// ValidateRequired checks that all required prerequisites are met.
// Returns nil if all required tools are found, otherwise returns an error
// describing what's missing
func ValidateRequired(results []CheckResult) error {
	var missing []string

	for _, r := range results {
		if !r.Prerequisite.Required || r.Found {
			continue
		}
		line := fmt.Sprintf("  - %s (%s)", r.Prerequisite.Name, r.Prerequisite.Description)
		if r.Prerequisite.InstallURL != "" {
			line += "\n    Install: " + r.Prerequisite.InstallURL
		}
		missing = append(missing, line)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required executables:\n%s", strings.Join(missing, "\n"))
	}

	return nil
}

// version returns the first line of `<path> --version`, or "" when the
// command does not answer.
func (c *Checker) version(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	output, err := c.executor.Output(ctx, path, "--version")
	if err != nil {
		return ""
	}

	version := strings.TrimSpace(firstLine(string(output)))
	// Limit length to avoid overly long version strings
	if len(version) > 100 {
		version = version[:100] + "..."
	}
	return version
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		sb.WriteString(fmt.Sprintf("  %s %s", status, r.Prerequisite.Name))
		if r.Found && r.Version != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", r.Version))
		} else if !r.Found {
			if r.Prerequisite.Required {
				sb.WriteString(" [REQUIRED]")
			} else {
				sb.WriteString(" [optional]")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
