//go:build !windows

package gitsync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.TrimSpace(string(out))
}

func setupRemote(t *testing.T) (string, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_AUTHOR_NAME", "Test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "Test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
	t.Setenv("GIT_CONFIG_GLOBAL", "/dev/null")

	root := t.TempDir()
	bare := filepath.Join(root, "remote.git")
	seed := filepath.Join(root, "seed")
	git(t, root, "init", "--bare", bare)
	git(t, root, "init", seed)
	require.NoError(t, os.WriteFile(filepath.Join(seed, "README.md"), []byte("skills\n"), 0o644))
	git(t, seed, "add", "-A")
	git(t, seed, "commit", "-m", "seed")
	git(t, seed, "push", bare, "HEAD:refs/heads/main")
	git(t, bare, "symbolic-ref", "HEAD", "refs/heads/main")
	return root, bare
}

func TestPushAndPull(t *testing.T) {
	root, bare := setupRemote(t)
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	git(t, root, "clone", bare, a)
	git(t, root, "clone", bare, b)

	ctx := context.Background()
	c := New()

	res, err := c.Pull(ctx, b, "")
	require.NoError(t, err)
	assert.Equal(t, PullResult{UpToDate: true}, res)

	require.NoError(t, os.MkdirAll(filepath.Join(a, "crm"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(a, "crm", "SKILL.md"), []byte("---\nname: crm\n---\n"), 0o644))
	require.NoError(t, c.Push(ctx, a, "", "Add crm skill"))
	assert.Equal(t, "Add crm skill", git(t, a, "log", "-1", "--format=%s"))

	require.NoError(t, c.Push(ctx, a, "", ""), "a clean tree still pushes")

	res, err = c.Pull(ctx, b, "")
	require.NoError(t, err)
	assert.Equal(t, PullResult{CommitsPulled: 1}, res)
	assert.FileExists(t, filepath.Join(b, "crm", "SKILL.md"))
}

func TestPullOutsideRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := New().Pull(context.Background(), t.TempDir(), "")
	assert.Error(t, err)
}

// fakeGit fails `git add` with an index.lock error until the counter file
// reaches failures.
func fakeGit(t *testing.T, failures int) (string, string) {
	t.Helper()
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	argsFile := filepath.Join(dir, "args")
	script := `#!/bin/sh
echo "$@" >> "` + argsFile + `"
if [ "$1" = "add" ]; then
  n=$(cat "` + counter + `" 2>/dev/null || echo 0)
  n=$((n+1))
  echo $n > "` + counter + `"
  if [ $n -le ` + string(rune('0'+failures)) + ` ]; then
    echo "fatal: Unable to create '.git/index.lock': File exists." >&2
    exit 128
  fi
fi
exit 0
`
	path := filepath.Join(dir, "git")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, argsFile
}

func TestPushRetriesLockedIndex(t *testing.T) {
	bin, argsFile := fakeGit(t, 2)
	c := New(WithGitBinary(bin), WithRetry(3, time.Millisecond))

	require.NoError(t, c.Push(context.Background(), t.TempDir(), "tok-secret", "msg"))

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, 3, strings.Count(string(data), "add -A"))
	last := lines[len(lines)-1]
	assert.Contains(t, last, "http.extraHeader=Authorization: Basic ")
	assert.True(t, strings.HasSuffix(last, "push"))
	assert.NotContains(t, string(data), "tok-secret")
}

func TestPushGivesUpAfterAttempts(t *testing.T) {
	bin, _ := fakeGit(t, 5)
	c := New(WithGitBinary(bin), WithRetry(3, time.Millisecond))

	err := c.Push(context.Background(), t.TempDir(), "", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index.lock")
}
