package process

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/zhubert/plural-bridge/exec"
	"github.com/zhubert/plural-bridge/metrics"
)

const (
	// DefaultGracePeriod is how long a terminated process gets before SIGKILL.
	DefaultGracePeriod = 3 * time.Second

	// reapTimeout bounds the wait for the kernel to report a killed child.
	reapTimeout = 2 * time.Second

	// scanTimeout bounds a single process table snapshot.
	scanTimeout = 5 * time.Second

	pollInterval = 50 * time.Millisecond
)

// Supervisor starts child processes and terminates them along with their
// descendants. It is safe for concurrent use; process table scans are
// read-only.
type Supervisor struct {
	log      *slog.Logger
	table    Table
	executor exec.CommandExecutor
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithTable overrides the process table source.
func WithTable(t Table) SupervisorOption {
	return func(s *Supervisor) {
		s.table = t
	}
}

// WithExecutor overrides the executor used for helper commands.
func WithExecutor(e exec.CommandExecutor) SupervisorOption {
	return func(s *Supervisor) {
		s.executor = e
	}
}

// NewSupervisor creates a Supervisor that logs to log.
func NewSupervisor(log *slog.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		log:   log,
		table: DefaultTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := s.table.(PSTable); ok && s.executor != nil {
		s.table = PSTable{Executor: s.executor}
	}
	return s
}

// Spawn starts the child described by cfg. Failures wrap ErrSpawn.
func (s *Supervisor) Spawn(cfg SpawnConfig) (*Handle, error) {
	h, err := start(cfg, s.log)
	if err != nil {
		s.log.Error("failed to start process", "command", cfg.Command, "error", err)
		return nil, err
	}
	return h, nil
}

// Terminate stops the child owned by h: SIGTERM to its process group, a wait
// of up to graceful, then SIGKILL. The group is signalled even when the
// child itself already exited, so members it left behind go too. Calling it
// on a nil handle or a fully exited group is a no-op.
func (s *Supervisor) Terminate(h *Handle, graceful time.Duration) {
	if h == nil {
		return
	}
	pid := h.PID()
	alive := func(int) bool { return h.Alive() || groupAlive(pid) }
	if !alive(pid) {
		return
	}
	ctx := context.Background()

	s.log.Debug("terminating process", "pid", pid)
	metrics.Signals.WithLabelValues("term").Inc()
	if err := s.signal(ctx, pid, false, true); err != nil {
		s.log.Debug("graceful signal failed", "pid", pid, "error", err)
	}

	if len(waitForExit([]int{pid}, graceful, alive)) == 0 {
		s.log.Debug("process exited gracefully", "pid", pid)
		return
	}

	s.log.Warn("process ignored termination, force killing", "pid", pid, "graceful", graceful)
	metrics.Signals.WithLabelValues("kill").Inc()
	if err := s.signal(ctx, pid, true, true); err != nil {
		s.log.Error("failed to kill process", "pid", pid, "error", err)
	}

	if len(waitForExit([]int{pid}, reapTimeout, alive)) > 0 {
		s.log.Error("process still not reaped after kill", "pid", pid)
	}
}

// Descendants returns the processes currently below pid, closest first.
// Callers take this snapshot while the tree is intact, since descendants are
// reparented once pid exits.
func (s *Supervisor) Descendants(ctx context.Context, pid int) []int {
	if pid <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	snap, err := s.table.Snapshot(ctx)
	if err != nil {
		s.log.Debug("process table unavailable", "pid", pid, "error", err)
		return nil
	}
	return snap.Descendants(pid)
}

// TerminateTree terminates pid, its process group and every descendant,
// children before parents. Descendants come from a fresh process table
// snapshot plus known, pids recorded earlier that may have been reparented
// since. Survivors of the grace period are killed. The group of pid is
// signalled even after pid itself has exited.
func (s *Supervisor) TerminateTree(pid int, grace time.Duration, known ...int) {
	if pid <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	var targets []int
	snap, err := s.table.Snapshot(ctx)
	if err != nil {
		s.log.Debug("process table unavailable, signalling group", "pid", pid, "error", err)
	} else {
		targets = snap.Descendants(pid)
	}
	for _, p := range known {
		if p > 0 && p != pid && !slices.Contains(targets, p) {
			targets = append(targets, p)
		}
	}
	slices.Reverse(targets)
	targets = append(targets, pid)

	alive := func(p int) bool {
		return pidAlive(p) || (p == pid && groupAlive(pid))
	}

	var live []int
	for _, p := range targets {
		if !alive(p) {
			continue
		}
		live = append(live, p)
		metrics.Signals.WithLabelValues("term").Inc()
		// The root is signalled as a group so untracked members go too.
		if err := s.signal(ctx, p, false, p == pid); err != nil {
			s.log.Debug("terminate signal failed", "pid", p, "error", err)
		}
	}
	if len(live) == 0 {
		return
	}
	s.log.Debug("terminating process tree", "root", pid, "count", len(live))

	survivors := waitForExit(live, grace, alive)
	for _, p := range survivors {
		s.log.Warn("force killing process", "pid", p, "root", pid)
		metrics.Signals.WithLabelValues("kill").Inc()
		if err := s.signal(ctx, p, true, p == pid); err != nil {
			s.log.Error("failed to kill process", "pid", p, "error", err)
		}
	}
	if len(survivors) > 0 {
		if still := waitForExit(survivors, reapTimeout, alive); len(still) > 0 {
			s.log.Error("processes survived SIGKILL", "pids", still)
		}
	}
}

// FindByMarker returns the pids whose command line contains marker, excluding
// the current process. Any scan failure yields an empty result.
func (s *Supervisor) FindByMarker(ctx context.Context, marker string) []int {
	if marker == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	snap, err := s.table.Snapshot(ctx)
	if err != nil {
		s.log.Debug("process scan failed", "marker", marker, "error", err)
		return nil
	}
	pids := snap.Matching(marker, os.Getpid())
	s.log.Debug("found processes by marker", "marker", marker, "count", len(pids))
	return pids
}

// SweepOrphans terminates every process tree whose command line contains
// marker and returns how many roots were swept. This is a best-effort
// fallback; tree termination of the known child always comes first.
func (s *Supervisor) SweepOrphans(ctx context.Context, marker string, grace time.Duration) int {
	pids := s.FindByMarker(ctx, marker)
	swept := 0
	for _, pid := range pids {
		if !pidAlive(pid) {
			continue
		}
		s.log.Info("killing orphaned process", "pid", pid, "marker", marker)
		s.TerminateTree(pid, grace)
		metrics.OrphansSwept.Inc()
		swept++
	}
	return swept
}

// Alive reports whether pid currently exists.
func Alive(pid int) bool {
	return pidAlive(pid)
}

// waitForExit polls until alive reports every pid gone or timeout elapses
// and returns the pids still alive.
func waitForExit(pids []int, timeout time.Duration, alive func(int) bool) []int {
	deadline := time.Now().Add(timeout)
	remaining := slices.Clone(pids)
	for {
		remaining = slices.DeleteFunc(remaining, func(p int) bool { return !alive(p) })
		if len(remaining) == 0 || !time.Now().Before(deadline) {
			return remaining
		}
		time.Sleep(pollInterval)
	}
}
