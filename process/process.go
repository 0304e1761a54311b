// Package process spawns the tool server child process and tears it down,
// together with any descendants it left behind.
package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// ErrSpawn is returned when the child executable is missing or cannot be started.
var ErrSpawn = errors.New("spawn failed")

// SpawnConfig describes the child process to start.
type SpawnConfig struct {
	Command string   // Executable name or path, resolved through PATH
	Args    []string // Arguments after the executable
	Dir     string   // Working directory; empty means the current directory
	Env     []string // Extra KEY=VALUE pairs appended to the host environment
}

// Handle owns a running child process and its three standard streams.
// Only the Supervisor signals the process; other packages read and write
// the pipes and observe liveness.
type Handle struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	mu       sync.Mutex
	cmd      *exec.Cmd
	pid      int
	alive    bool
	exitErr  error
	waitDone chan struct{}
}

// PID returns the OS process id of the child.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Alive reports whether the child has not been reaped yet.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.waitDone
}

// ExitErr returns the error from cmd.Wait once Done is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// CloseStdin signals EOF to the child. Safe to call more than once.
func (h *Handle) CloseStdin() error {
	h.mu.Lock()
	stdin := h.Stdin
	h.mu.Unlock()
	if stdin == nil {
		return nil
	}
	err := stdin.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// Release closes the read ends of stdout and stderr, unblocking readers
// that would otherwise wait for descendants still holding the write ends.
func (h *Handle) Release() {
	h.Stdout.Close()
	h.Stderr.Close()
}

// start launches the child with all three streams piped. The child gets its
// own process group so the whole tree can be signalled at once.
func start(cfg SpawnConfig, log *slog.Logger) (*Handle, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: empty command", ErrSpawn)
	}

	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, cfg.Command, err)
	}

	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.SysProcAttr = sysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}
	// The read ends are ours rather than exec's so cmd.Wait never closes
	// them under a reader that has not drained the buffered output yet.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	log.Debug("starting process", "command", path+" "+strings.Join(cfg.Args, " "), "dir", cfg.Dir)

	h := &Handle{
		Stdin:    stdin,
		Stdout:   stdout,
		Stderr:   stderr,
		cmd:      cmd,
		waitDone: make(chan struct{}),
	}

	// Pdeathsig follows the thread that forked the child, not the process,
	// so that thread stays pinned until the child has been reaped.
	started := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if err := cmd.Start(); err != nil {
			started <- err
			return
		}
		h.mu.Lock()
		h.pid = cmd.Process.Pid
		h.alive = true
		h.mu.Unlock()
		started <- nil

		// monitor is the sole caller of cmd.Wait
		h.monitor(log)
	}()

	err = <-started
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, cfg.Command, err)
	}

	log.Info("process started", "pid", h.PID())
	return h, nil
}

func (h *Handle) monitor(log *slog.Logger) {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.alive = false
	h.exitErr = err
	h.mu.Unlock()

	log.Debug("process exited", "pid", h.pid, "error", err)
	close(h.waitDone)
}
