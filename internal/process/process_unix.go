//go:build unix

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// setupProcessGroup configures the command to run in its own process group.
// Signals then reach the whole tree the backend spawns (tool helpers,
// language servers) instead of only the direct child.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killProcessGroup sends SIGKILL to the process group associated with the
// command. A group that is already gone is not an error.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	// Negative PID addresses the whole group
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
