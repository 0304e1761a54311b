//go:build unix

package process

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"
)

// signal delivers SIGTERM (or SIGKILL when force is set) to pid. With group
// set, the process group led by pid is signalled as well, even after the
// leader itself has exited; the host's group is never targeted. A process
// that is already gone is not an error.
func (s *Supervisor) signal(_ context.Context, pid int, force, group bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}

	if group && ownGroup(pid) {
		err := unix.Kill(-pid, sig)
		if err == nil || !errors.Is(err, unix.ESRCH) {
			return err
		}
	}

	err := unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// ownGroup reports whether pid may be treated as a process group id: it is
// either the group leader or its group outlived it. Children are spawned
// with Setpgid, so their pgid equals their pid.
func ownGroup(pid int) bool {
	if pid <= 0 || pid == unix.Getpgrp() {
		return false
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		// Leader gone; the group may still have members
		return true
	}
	return pgid == pid
}

// groupAlive reports whether the process group pid still has members.
func groupAlive(pid int) bool {
	if !ownGroup(pid) {
		return false
	}
	err := unix.Kill(-pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// pidAlive reports whether pid exists and is not a zombie.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	return !isZombie(pid)
}
