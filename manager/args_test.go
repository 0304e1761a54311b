package manager

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/zhubert/plural-bridge/config"
)

func TestBuildArgs(t *testing.T) {
	base := t.TempDir()
	profile := filepath.Join(base, "profile")

	tests := []struct {
		name   string
		modify func(*config.Browser)
		want   []string
	}{
		{
			name:   "persistent profile",
			modify: func(b *config.Browser) {},
			want: []string{
				"-y", "chrome-devtools-mcp@latest",
				"--user-data-dir=" + profile,
				"--chrome-arg=--disable-blink-features=AutomationControlled",
				"--ignore-default-chrome-arg=--enable-automation",
			},
		},
		{
			name: "isolated ignores profile dir",
			modify: func(b *config.Browser) {
				b.Isolated = true
			},
			want: []string{
				"-y", "chrome-devtools-mcp@latest",
				"--isolated",
				"--chrome-arg=--disable-blink-features=AutomationControlled",
				"--ignore-default-chrome-arg=--enable-automation",
			},
		},
		{
			name: "proxy and extra args",
			modify: func(b *config.Browser) {
				b.ProxyURL = "socks5://127.0.0.1:1080"
				b.ExtraArgs = []string{"--headless", "--viewport=1280x720"}
			},
			want: []string{
				"-y", "chrome-devtools-mcp@latest",
				"--user-data-dir=" + profile,
				"--proxy-server=socks5://127.0.0.1:1080",
				"--chrome-arg=--disable-blink-features=AutomationControlled",
				"--ignore-default-chrome-arg=--enable-automation",
				"--headless", "--viewport=1280x720",
			},
		},
		{
			name: "custom spellings and no anti-automation flags",
			modify: func(b *config.Browser) {
				b.Command = "node"
				b.CommandArgs = nil
				b.ScriptPath = "server.js"
				b.Flags.UserDataDir = "--profile"
				b.Flags.ProxyServer = "--proxy"
				b.ProxyURL = "http://proxy:3128"
				b.AntiAutomationFlags = nil
			},
			want: []string{"server.js", "--profile=" + profile, "--proxy=http://proxy:3128"},
		},
		{
			name: "empty flag names are skipped",
			modify: func(b *config.Browser) {
				b.Isolated = true
				b.Flags.Isolated = ""
				b.Flags.ProxyServer = ""
				b.ProxyURL = "http://proxy:3128"
				b.AntiAutomationFlags = nil
			},
			want: []string{"-y", "chrome-devtools-mcp@latest"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultBrowser()
			cfg.ProfileDir = profile
			tt.modify(&cfg)

			got, err := BuildArgs(cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("BuildArgs() =\n  %q\nwant\n  %q", got, tt.want)
			}
		})
	}
}

func TestBuildArgs_CreatesProfileDir(t *testing.T) {
	cfg := config.DefaultBrowser()
	cfg.ProfileDir = filepath.Join(t.TempDir(), "a", "b", "profile")

	if _, err := BuildArgs(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(cfg.ProfileDir)
	if err != nil {
		t.Fatalf("profile dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("profile path should be a directory")
	}
}

func TestBuildArgs_ProfileDirError(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultBrowser()
	cfg.ProfileDir = filepath.Join(file, "profile")

	if _, err := BuildArgs(cfg); err == nil {
		t.Error("expected an error when the profile dir can not be created")
	}
}

func TestBuildArgs_DoesNotAliasConfig(t *testing.T) {
	cfg := config.DefaultBrowser()
	cfg.Isolated = true
	cfg.CommandArgs = make([]string, 1, 8)
	cfg.CommandArgs[0] = "-y"

	first, _ := BuildArgs(cfg)
	second, _ := BuildArgs(cfg)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated builds differ: %q vs %q", first, second)
	}
	if len(cfg.CommandArgs) != 1 {
		t.Errorf("config was modified: %q", cfg.CommandArgs)
	}
}

func TestMarker(t *testing.T) {
	cfg := config.DefaultBrowser()
	cfg.ProfileDir = "/home/u/.cache/plural-bridge/browser-profile"
	if got := marker(cfg); got != cfg.ProfileDir {
		t.Errorf("marker() = %q", got)
	}
	cfg.Isolated = true
	if got := marker(cfg); got != "" {
		t.Errorf("isolated marker() = %q, want empty", got)
	}
}
