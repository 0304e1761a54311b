package process

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/zhubert/plural-bridge/exec"
)

// Entry is one row of the OS process table. Entries are only ever used as
// weak references: a pid may be reused by the time it is signalled.
type Entry struct {
	PID     int
	PPID    int
	Name    string // Short executable name, when the source provides it
	Command string // Full command line joined with spaces
}

// Snapshot is a point-in-time copy of the process table indexed by pid and
// by parent.
type Snapshot struct {
	entries  map[int]Entry
	children map[int][]int
}

// NewSnapshot indexes entries for lookups by pid and parent.
func NewSnapshot(entries []Entry) *Snapshot {
	s := &Snapshot{
		entries:  make(map[int]Entry, len(entries)),
		children: make(map[int][]int),
	}
	for _, e := range entries {
		if e.PID <= 0 {
			continue
		}
		s.entries[e.PID] = e
		if e.PPID > 0 && e.PPID != e.PID {
			s.children[e.PPID] = append(s.children[e.PPID], e.PID)
		}
	}
	for ppid := range s.children {
		slices.Sort(s.children[ppid])
	}
	return s
}

// Len returns the number of processes in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Lookup returns the entry for pid.
func (s *Snapshot) Lookup(pid int) (Entry, bool) {
	e, ok := s.entries[pid]
	return e, ok
}

// Descendants returns every process below pid in breadth-first order,
// excluding pid itself. Closer descendants come first.
func (s *Snapshot) Descendants(pid int) []int {
	if s == nil || pid <= 0 {
		return nil
	}

	var out []int
	queue := []int{pid}
	visited := map[int]struct{}{pid: {}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range s.children[current] {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// Matching returns the pids whose command line contains marker, in
// ascending order, skipping any pid listed in exclude.
func (s *Snapshot) Matching(marker string, exclude ...int) []int {
	if s == nil || marker == "" {
		return nil
	}

	var out []int
	for pid, e := range s.entries {
		if slices.Contains(exclude, pid) {
			continue
		}
		if strings.Contains(e.Command, marker) {
			out = append(out, pid)
		}
	}
	slices.Sort(out)
	return out
}

// Table produces process table snapshots.
type Table interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// TableFunc adapts a function to the Table interface.
type TableFunc func(ctx context.Context) (*Snapshot, error)

// Snapshot calls f.
func (f TableFunc) Snapshot(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

// PSTable reads the process table by running ps. It is the source on
// platforms without procfs.
type PSTable struct {
	Executor exec.CommandExecutor
}

// Snapshot runs ps and parses its output.
func (t PSTable) Snapshot(ctx context.Context) (*Snapshot, error) {
	executor := t.Executor
	if executor == nil {
		executor = exec.GetDefaultExecutor()
	}

	out, err := executor.Output(ctx, "ps", "-axo", "pid=,ppid=,command=")
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	return NewSnapshot(parsePS(string(out))), nil
}

// parsePS parses "pid ppid command..." lines. Lines that do not start with
// two integers are skipped.
func parsePS(output string) []Entry {
	var entries []Entry
	for line := range strings.SplitSeq(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		e := Entry{PID: pid, PPID: ppid}
		if len(fields) > 2 {
			e.Command = strings.Join(fields[2:], " ")
			e.Name = fields[2]
		}
		entries = append(entries, e)
	}
	return entries
}
