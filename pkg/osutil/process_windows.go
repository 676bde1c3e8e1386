//go:build windows

package osutil

import (
	"os/exec"
	"syscall"
)

// SetProcessGroup starts cmd in a new process group.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
		HideWindow:    true,
	}
}

// killGroup is a no-op on Windows; KillTree walks the children instead.
func killGroup(int) error {
	return nil
}
