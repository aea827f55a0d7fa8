//go:build !linux

// Package procattr configures agent subprocesses so they cannot outlive the
// bridge that spawned them.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set places the child in its own process group. Pdeathsig is Linux-only;
// elsewhere group signalling by the parent is the only cleanup path.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
