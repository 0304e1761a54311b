package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/procfs"
)

// ProcfsTable reads the process table from /proc.
type ProcfsTable struct {
	// MountPoint overrides the procfs mount; empty means /proc.
	MountPoint string
}

// Snapshot walks every /proc/<pid> entry. Processes that exit mid-scan are
// skipped rather than failing the whole snapshot.
func (t ProcfsTable) Snapshot(ctx context.Context) (*Snapshot, error) {
	fs, err := t.fs()
	if err != nil {
		return nil, err
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	entries := make([]Entry, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		e := Entry{PID: p.PID, PPID: stat.PPID, Name: stat.Comm}
		if cmdline, err := p.CmdLine(); err == nil {
			e.Command = strings.Join(cmdline, " ")
		}
		entries = append(entries, e)
	}
	return NewSnapshot(entries), nil
}

func (t ProcfsTable) fs() (procfs.FS, error) {
	if t.MountPoint != "" {
		return procfs.NewFS(t.MountPoint)
	}
	return procfs.NewDefaultFS()
}

// DefaultTable returns the process table source for this platform.
func DefaultTable() Table {
	return ProcfsTable{}
}

// isZombie reports whether pid has exited but not been reaped. kill(pid, 0)
// succeeds for zombies, so liveness checks consult this too.
func isZombie(pid int) bool {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return false
	}
	stat, err := p.Stat()
	if err != nil {
		return false
	}
	return stat.State == "Z" || stat.State == "X"
}
