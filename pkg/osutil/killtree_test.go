//go:build unix

package osutil

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetProcessGroup(t *testing.T) {
	cmd := exec.Command("echo", "test")
	SetProcessGroup(cmd)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
}

func TestSetTreeKill(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 30 & sleep 30; wait")
	SetProcessGroup(cmd)
	SetTreeKill(cmd)
	require.NoError(t, cmd.Start())

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	cancel()
	_ = cmd.Wait()

	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestKillTreeMissingProcess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	// The pid is reaped; killing it again must not fail loudly.
	_ = KillTree(context.Background(), cmd.Process.Pid)
}
