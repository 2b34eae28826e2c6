//go:build unix

package invoker

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the skill in its own process group and makes
// context cancellation kill the whole group, not just the leader.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
