package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "github.json")
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	creds, err := CredentialsFromState(State{
		Phase: PhaseSuccess,
		Token: "gho_abc",
		Scope: "repo",
		User:  &User{Login: "octocat"},
	}, now)
	require.NoError(t, err)
	require.NoError(t, SaveCredentials(path, creds))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, creds, *loaded)

	require.NoError(t, DeleteCredentials(path))
	require.NoError(t, DeleteCredentials(path))
	_, err = LoadCredentials(path)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestCredentialsFromUnfinishedFlow(t *testing.T) {
	_, err := CredentialsFromState(State{Phase: PhasePolling}, time.Now())
	assert.Error(t, err)
}

func TestLoadCorruptCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "github.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := LoadCredentials(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotLoggedIn)
}

func TestCredentialsPath(t *testing.T) {
	t.Setenv("SKILLBUILDER_BASE_PATH", "/tmp/sb")
	path, err := CredentialsPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/sb", "github.json"), path)
}
