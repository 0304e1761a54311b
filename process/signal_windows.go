//go:build windows

package process

import (
	"context"
	"os"
	"strconv"
	"syscall"

	"github.com/zhubert/plural-bridge/exec"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// signal asks taskkill to end pid; /T takes the child tree with it and /F
// forces termination.
func (s *Supervisor) signal(ctx context.Context, pid int, force, group bool) error {
	args := []string{"/PID", strconv.Itoa(pid)}
	if group {
		args = append(args, "/T")
	}
	if force {
		args = append(args, "/F")
	}
	executor := s.executor
	if executor == nil {
		executor = exec.GetDefaultExecutor()
	}
	return executor.Run(ctx, "taskkill", args...)
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}

// groupAlive is always false; taskkill /T walks the tree instead.
func groupAlive(pid int) bool {
	return false
}
