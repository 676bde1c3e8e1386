//go:build unix

package osutil

import (
	"os/exec"
	"syscall"
)

// SetProcessGroup starts cmd in its own process group so that the agent and
// every tool it spawns can be signalled together.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup signals the whole process group led by pid.
func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
