//go:build !linux

package process

// DefaultTable returns the process table source for this platform.
func DefaultTable() Table {
	return PSTable{}
}

func isZombie(pid int) bool {
	return false
}
