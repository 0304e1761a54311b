package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zhubert/plural-bridge/browser"
	"github.com/zhubert/plural-bridge/cli"
	"github.com/zhubert/plural-bridge/logger"
	"github.com/zhubert/plural-bridge/manager"
	"github.com/zhubert/plural-bridge/mcp"
	"github.com/zhubert/plural-bridge/process"
)

var errUnavailable = errors.New("tool server unavailable")

// withClient connects, runs fn and always disconnects, also when the
// command is interrupted.
func withClient(cmd *cobra.Command, opts *options, fn func(*manager.Client) error) error {
	mgr := manager.NewConnectionManager(opts.cfg.Browser)
	defer mgr.Disconnect()

	client := mgr.Connect(cmd.Context(), nil)
	if client == nil {
		if path := logger.Path(); path != "" {
			return fmt.Errorf("%w (details in %s)", errUnavailable, path)
		}
		return errUnavailable
	}
	return fn(client)
}

func newToolsCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the server offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(c *manager.Client) error {
				tools := c.Tools()
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(tools)
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, t := range tools {
					fmt.Fprintf(w, "%s\t%s\n", t.Name, firstLine(t.Description))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print full tool definitions as JSON")
	return cmd
}

func newCallCmd(opts *options) *cobra.Command {
	var (
		timeout time.Duration
		raw     bool
	)

	cmd := &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Call a tool and print its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
					return fmt.Errorf("arguments must be a JSON object: %w", err)
				}
			}

			return withClient(cmd, opts, func(c *manager.Client) error {
				out := cmd.OutOrStdout()
				if raw {
					result, err := c.CallTool(cmd.Context(), args[0], toolArgs, timeout)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(out, string(result))
					return err
				}
				text, err := c.CallToolText(cmd.Context(), args[0], toolArgs, timeout)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, text)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Call timeout (default: browser.call_timeout)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the raw JSON result")
	return cmd
}

func newSweepCmd(opts *options) *cobra.Command {
	var (
		profileDir string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Terminate browser processes left behind for a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			marker := profileDir
			if marker == "" {
				marker = opts.cfg.Browser.ProfileDir
			}
			if marker == "" {
				return errors.New("no profile dir configured; pass --profile-dir")
			}

			sup := process.NewSupervisor(logger.WithComponent("process"))
			out := cmd.OutOrStdout()
			if dryRun {
				for _, pid := range sup.FindByMarker(cmd.Context(), marker) {
					fmt.Fprintln(out, pid)
				}
				return nil
			}
			n := sup.SweepOrphans(cmd.Context(), marker, opts.cfg.Browser.GracePeriod.Duration)
			fmt.Fprintf(out, "swept %d process(es) for %s\n", n, marker)
			return nil
		},
	}
	cmd.Flags().StringVar(&profileDir, "profile-dir", "", "Profile dir to match (default: browser.profile_dir)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only print the matching pids")
	return cmd
}

func newServeFakeCmd(opts *options) *cobra.Command {
	var pages []string

	cmd := &cobra.Command{
		Use:   "serve-fake",
		Short: "Run an in-memory browser tool server on stdin/stdout",
		Long: "Run an MCP server on stdin/stdout that offers the page tools over an in-memory page list.\n" +
			"Point browser.command at this binary to exercise the bridge without a browser.\n" +
			"Browser flags such as --user-data-dir are accepted and ignored.",
		Args: cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{
			UnknownFlags: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			server := mcp.NewServer(cmd.InOrStdin(), cmd.OutOrStdout(), "plural-bridge-fake")
			browser.NewFakeBrowser(pages...).Install(server, opts.cfg.Browser.PageTools)
			return server.Run()
		},
	}
	cmd.Flags().StringSliceVar(&pages, "pages", []string{"about:blank"}, "Urls of the initially open pages")
	return cmd
}

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.cfg.FilePath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := opts.cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(opts.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func newDoctorCmd(opts *options) *cobra.Command {
	var connect bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the tool server can be launched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			results := cli.NewChecker(nil).CheckAll(cmd.Context(), cli.Prerequisites(opts.cfg.Browser))
			fmt.Fprint(out, cli.FormatCheckResults(results))
			if err := cli.ValidateRequired(results); err != nil {
				return err
			}
			if !connect {
				return nil
			}
			return withClient(cmd, opts, func(c *manager.Client) error {
				fmt.Fprintf(out, "connected to pid %d, %d tool(s) available\n", c.PID(), len(c.Tools()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "Also start the tool server and list its tools")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "plural-bridge %s (mcp %s)\n", version, mcp.ProtocolVersion)
		},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
