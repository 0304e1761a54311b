package config

import (
	"time"

	"github.com/zhubert/plural-bridge/browser"
)

// Default tool server settings
const (
	DefaultCommand    = "npx"
	DefaultScriptPath = "chrome-devtools-mcp@latest"

	DefaultCallTimeout     = 30 * time.Second
	DefaultShutdownTimeout = 3 * time.Second
	DefaultGracePeriod     = 3 * time.Second
	DefaultConnectTimeout  = 60 * time.Second
)

// DefaultAntiAutomationFlags keep the browser from announcing that it is
// automated.
var DefaultAntiAutomationFlags = []string{
	"--chrome-arg=--disable-blink-features=AutomationControlled",
	"--ignore-default-chrome-arg=--enable-automation",
}

// FlagNames are the tool server's spellings of the mode flags.
type FlagNames struct {
	Isolated    string `yaml:"isolated"`      // e.g. "--isolated"
	UserDataDir string `yaml:"user_data_dir"` // e.g. "--user-data-dir"; "=<path>" is appended
	ProxyServer string `yaml:"proxy_server"`  // e.g. "--proxy-server"; "=<url>" is appended
}

// Browser configures the tool server child process.
type Browser struct {
	Command     string   `yaml:"command"`      // Executable command (e.g., "npx", "node")
	CommandArgs []string `yaml:"command_args"` // Arguments placed before the script path
	ScriptPath  string   `yaml:"script_path"`  // Script or package the command runs
	Dir         string   `yaml:"dir,omitempty"`
	Env         []string `yaml:"env,omitempty"` // Extra KEY=VALUE entries for the child

	Isolated   bool   `yaml:"isolated"`              // Throwaway profile; no cleanup or orphan sweep
	ProfileDir string `yaml:"profile_dir,omitempty"` // Persistent profile; also the orphan marker
	ProxyURL   string `yaml:"proxy_url,omitempty"`

	AntiAutomationFlags []string  `yaml:"anti_automation_flags"`
	ExtraArgs           []string  `yaml:"extra_args,omitempty"`
	Flags               FlagNames `yaml:"flags"`

	CallTimeout     Duration `yaml:"call_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"` // Bound on the graceful close
	GracePeriod     Duration `yaml:"grace_period"`     // SIGTERM to SIGKILL delay
	ConnectTimeout  Duration `yaml:"connect_timeout"`  // Bound on spawn, handshake and cleanup

	SkipCleanup bool              `yaml:"skip_cleanup,omitempty"`
	PageTools   browser.PageTools `yaml:"page_tools"`
}

// DefaultBrowser returns the chrome-devtools-mcp configuration with a
// persistent profile. ProfileDir is resolved by Load.
func DefaultBrowser() Browser {
	return Browser{
		Command:             DefaultCommand,
		CommandArgs:         []string{"-y"},
		ScriptPath:          DefaultScriptPath,
		AntiAutomationFlags: append([]string(nil), DefaultAntiAutomationFlags...),
		Flags: FlagNames{
			Isolated:    "--isolated",
			UserDataDir: "--user-data-dir",
			ProxyServer: "--proxy-server",
		},
		CallTimeout:     Dur(DefaultCallTimeout),
		ShutdownTimeout: Dur(DefaultShutdownTimeout),
		GracePeriod:     Dur(DefaultGracePeriod),
		ConnectTimeout:  Dur(DefaultConnectTimeout),
		PageTools:       browser.DefaultPageTools(),
	}
}

// withDefaults fills zero fields from DefaultBrowser. Slices set to an
// empty list in the file stay empty; only absent ones are filled.
func (b Browser) withDefaults() Browser {
	d := DefaultBrowser()
	if b.Command == "" {
		b.Command = d.Command
		if b.CommandArgs == nil {
			b.CommandArgs = d.CommandArgs
		}
	}
	if b.ScriptPath == "" && b.Command == d.Command {
		b.ScriptPath = d.ScriptPath
	}
	if b.AntiAutomationFlags == nil {
		b.AntiAutomationFlags = d.AntiAutomationFlags
	}
	if b.Flags.Isolated == "" {
		b.Flags.Isolated = d.Flags.Isolated
	}
	if b.Flags.UserDataDir == "" {
		b.Flags.UserDataDir = d.Flags.UserDataDir
	}
	if b.Flags.ProxyServer == "" {
		b.Flags.ProxyServer = d.Flags.ProxyServer
	}
	if b.CallTimeout.Duration == 0 {
		b.CallTimeout = d.CallTimeout
	}
	if b.ShutdownTimeout.Duration == 0 {
		b.ShutdownTimeout = d.ShutdownTimeout
	}
	if b.GracePeriod.Duration == 0 {
		b.GracePeriod = d.GracePeriod
	}
	if b.ConnectTimeout.Duration == 0 {
		b.ConnectTimeout = d.ConnectTimeout
	}
	if b.PageTools == (browser.PageTools{}) {
		b.PageTools = d.PageTools
	}
	return b
}
