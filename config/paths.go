package config

import (
	"os"
	"path/filepath"
)

// SamePath returns true if a and b refer to the same filesystem entry.
// It handles case-insensitive filesystems (e.g. macOS APFS) and symlinks
// by comparing device+inode via os.SameFile. Falls back to exact string
// comparison when either path cannot be stat'd.
func SamePath(a, b string) bool {
	if a == b {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}

// tooBroadForMarker reports whether dir is one of the directories that
// appear in almost every command line on the machine. The profile dir is
// the orphan sweep marker, so such a dir would match unrelated processes.
func tooBroadForMarker(dir string, broad []string) bool {
	clean := filepath.Clean(dir)
	if clean == string(filepath.Separator) || clean == "." {
		return true
	}
	for _, b := range broad {
		if b != "" && SamePath(clean, b) {
			return true
		}
	}
	return false
}

// broadDirs lists the well-known directories a profile dir must not be.
func broadDirs() []string {
	dirs := []string{os.TempDir()}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}
	if cache, err := os.UserCacheDir(); err == nil {
		dirs = append(dirs, cache)
	}
	return dirs
}
