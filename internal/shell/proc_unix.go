//go:build !windows

package shell

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so Interrupt can
// signal the whole group, not just the immediate child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// sendInterrupt sends SIGINT to the child's process group.
func sendInterrupt(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGINT)
}

// terminate sends SIGTERM to the child's process group.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}
