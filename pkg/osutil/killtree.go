// Package osutil holds the process helpers used to supervise external agent
// processes.
package osutil

import (
	"context"
	"os/exec"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"
)

// KillTree kills pid and all of its descendants, deepest first. Agents
// re-parent tool subprocesses outside their group often enough that the
// group signal alone leaves strays behind.
func KillTree(ctx context.Context, pid int) error {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return errors.Wrapf(err, "failed to inspect process %d", pid)
	}

	var result *multierror.Error
	killDescendants(ctx, proc, &result)

	if err := killGroup(pid); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "failed to signal process group %d", pid))
	}
	if err := proc.KillWithContext(ctx); err != nil {
		if running, _ := proc.IsRunningWithContext(ctx); running {
			result = multierror.Append(result, errors.Wrapf(err, "failed to kill process %d", pid))
		}
	}
	return result.ErrorOrNil()
}

func killDescendants(ctx context.Context, proc *process.Process, result **multierror.Error) {
	children, err := proc.ChildrenWithContext(ctx)
	if err != nil {
		return
	}
	for _, child := range children {
		killDescendants(ctx, child, result)
		if err := child.KillWithContext(ctx); err != nil {
			if running, _ := child.IsRunningWithContext(ctx); running {
				*result = multierror.Append(*result, errors.Wrapf(err, "failed to kill child process %d", child.Pid))
			}
		}
	}
}

// SetTreeKill makes cancellation of cmd's context kill the whole tree.
// Must be called before cmd.Start.
func SetTreeKill(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return KillTree(context.Background(), cmd.Process.Pid)
	}
}
