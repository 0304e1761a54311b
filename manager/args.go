package manager

import (
	"fmt"
	"os"

	"github.com/zhubert/plural-bridge/config"
)

// BuildArgs assembles the tool server's argument list: command args, the
// script path, the profile mode flag, the proxy flag, the anti-automation
// flags and finally any extra args. A persistent profile directory is
// created if it does not exist.
func BuildArgs(cfg config.Browser) ([]string, error) {
	args := append([]string(nil), cfg.CommandArgs...)
	if cfg.ScriptPath != "" {
		args = append(args, cfg.ScriptPath)
	}

	if cfg.Isolated {
		if cfg.Flags.Isolated != "" {
			args = append(args, cfg.Flags.Isolated)
		}
	} else if cfg.ProfileDir != "" {
		if err := os.MkdirAll(cfg.ProfileDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create profile dir: %w", err)
		}
		if cfg.Flags.UserDataDir != "" {
			args = append(args, cfg.Flags.UserDataDir+"="+cfg.ProfileDir)
		}
	}

	if cfg.ProxyURL != "" && cfg.Flags.ProxyServer != "" {
		args = append(args, cfg.Flags.ProxyServer+"="+cfg.ProxyURL)
	}

	args = append(args, cfg.AntiAutomationFlags...)
	args = append(args, cfg.ExtraArgs...)
	return args, nil
}

// marker returns the string that identifies this configuration's processes
// in the process table, or "" when there is none to sweep for.
func marker(cfg config.Browser) string {
	if cfg.Isolated {
		return ""
	}
	return cfg.ProfileDir
}
