package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitSource(t *testing.T) {
	old := GitCommit
	t.Cleanup(func() { GitCommit = old })

	GitCommit = "deadbeef"
	assert.Equal(t, "deadbeef", Get().GitCommit, "linked commit wins over build info")

	GitCommit = ""
	got := Get()
	assert.NotEmpty(t, got.GitCommit, "falls back to the vcs revision or unknown")
	assert.Equal(t, Version, got.Version)
	assert.Regexp(t, `^go\d`, got.GoVersion)
}

func TestInfoRendering(t *testing.T) {
	info := Info{Version: "0.4.0", GitCommit: "5f2c1e0", BuildTime: "2026-10-01T08:00:00Z", GoVersion: "go1.25.1"}

	assert.Equal(t, "Version: 0.4.0, GitCommit: 5f2c1e0, BuildTime: 2026-10-01T08:00:00Z, GoVersion: go1.25.1", info.String())

	out, err := info.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"0.4.0","gitCommit":"5f2c1e0","buildTime":"2026-10-01T08:00:00Z","goVersion":"go1.25.1"}`, out)
}
