// Package config loads the bridge configuration from config.yaml.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/plural-bridge/paths"
)

// Environment overrides, applied after the file is read.
const (
	EnvProxy      = "PLURAL_BRIDGE_PROXY"
	EnvProfileDir = "PLURAL_BRIDGE_PROFILE_DIR"
)

// Config is the top-level configuration file.
type Config struct {
	Browser     Browser `yaml:"browser"`
	Debug       bool    `yaml:"debug,omitempty"`
	MetricsAddr string  `yaml:"metrics_addr,omitempty"`

	mu       sync.Mutex
	filePath string
}

// ValidationError describes a single validation problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads config.yaml from the config directory.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the configuration at path. A missing file yields the
// defaults. Environment overrides are applied before validation.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.Browser = cfg.Browser.withDefaults()
	cfg.applyEnv()

	if !cfg.Browser.Isolated && cfg.Browser.ProfileDir == "" {
		dir, err := paths.DefaultProfileDir()
		if err != nil {
			return nil, err
		}
		cfg.Browser.ProfileDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvProxy); v != "" {
		c.Browser.ProxyURL = v
	}
	if v := os.Getenv(EnvProfileDir); v != "" {
		c.Browser.ProfileDir = v
	}
}

// Validate checks the configuration and returns every problem found,
// joined into one error.
func (c *Config) Validate() error {
	var errs []error
	b := c.Browser

	if b.Command == "" {
		errs = append(errs, ValidationError{Field: "browser.command", Message: "command is required"})
	}

	for field, d := range map[string]Duration{
		"browser.call_timeout":     b.CallTimeout,
		"browser.shutdown_timeout": b.ShutdownTimeout,
		"browser.grace_period":     b.GracePeriod,
		"browser.connect_timeout":  b.ConnectTimeout,
	} {
		if d.Duration < 0 {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("must not be negative, got %s", d.Duration)})
		}
	}

	if b.ProxyURL != "" {
		u, err := url.Parse(b.ProxyURL)
		if err != nil {
			errs = append(errs, ValidationError{Field: "browser.proxy_url", Message: err.Error()})
		} else if u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{Field: "browser.proxy_url", Message: fmt.Sprintf("%q needs a scheme and host", b.ProxyURL)})
		}
	}

	if !b.Isolated && b.ProfileDir != "" && tooBroadForMarker(b.ProfileDir, broadDirs()) {
		errs = append(errs, ValidationError{
			Field:   "browser.profile_dir",
			Message: fmt.Sprintf("%q is too broad to identify the browser's processes", b.ProfileDir),
		})
	}

	return errors.Join(errs...)
}

// Save writes the configuration back to its file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.filePath, data, 0644)
}

// FilePath returns the file the configuration was loaded from.
func (c *Config) FilePath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filePath
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}
