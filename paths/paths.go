// Package paths resolves where plural-bridge keeps its files.
//
// Three kinds of files are involved:
//
//   - Config (XDG_CONFIG_HOME): config.yaml with the tool server command line
//   - State (XDG_STATE_HOME): logs/
//   - Cache (XDG_CACHE_HOME): browser-profile/, the persistent browser profile
//
// Resolution order for config and state:
//  1. If ~/.plural-bridge/ exists → flat layout (both under ~/.plural-bridge/)
//  2. If XDG env vars are set → XDG layout with proper separation
//  3. Otherwise → ~/.plural-bridge/
//
// The cache directory always follows os.UserCacheDir so the browser profile
// lands where the platform expects large, disposable data.
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

const appDirName = "plural-bridge"

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	stateDir  string
	cacheDir  string
	flat      bool
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	cacheDir, err := userCacheDir(home)
	if err != nil {
		return nil, err
	}

	flatDir := filepath.Join(home, "."+appDirName)

	if info, err := os.Stat(flatDir); err == nil && info.IsDir() {
		resolved = &resolvedPaths{
			configDir: flatDir,
			stateDir:  flatDir,
			cacheDir:  cacheDir,
			flat:      true,
		}
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig != "" || xdgState != "" {
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, appDirName),
			stateDir:  filepath.Join(xdgState, appDirName),
			cacheDir:  cacheDir,
		}
		return resolved, nil
	}

	resolved = &resolvedPaths{
		configDir: flatDir,
		stateDir:  flatDir,
		cacheDir:  cacheDir,
		flat:      true,
	}
	return resolved, nil
}

// userCacheDir honors XDG_CACHE_HOME first, then the platform default, and
// finally ~/.cache when the platform has no opinion.
func userCacheDir(home string) (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName), nil
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, appDirName), nil
	}
	return filepath.Join(home, ".cache", appDirName), nil
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// CacheDir returns the directory for large disposable data.
func CacheDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.cacheDir, nil
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// DefaultProfileDir returns the persistent browser profile location used
// when the configuration does not name one.
func DefaultProfileDir() (string, error) {
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "browser-profile"), nil
}

// IsFlatLayout returns true if using the ~/.plural-bridge/ flat layout.
func IsFlatLayout() bool {
	r, err := resolve()
	if err != nil {
		return true
	}
	return r.flat
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
