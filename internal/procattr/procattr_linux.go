//go:build linux

// Package procattr configures agent subprocesses so they cannot outlive the
// bridge that spawned them.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set places the child in its own process group and arranges for it to
// receive SIGTERM if the parent dies without cleaning up (OOM kill, SIGKILL).
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
