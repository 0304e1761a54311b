package process

import "syscall"

// sysProcAttr puts the child in its own process group. Pdeathsig makes the
// kernel send SIGTERM to the direct child when the thread that forked it
// exits, which includes the host dying without cleanup. start keeps that
// thread alive for as long as the child runs.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
