package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	base := t.TempDir()
	t.Setenv("SKILLBUILDER_BASE_PATH", base)

	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "./workspace", cfg.WorkspacePath)
	assert.Equal(t, filepath.Join(base, "storage.db"), cfg.DBPath)
	assert.Equal(t, "claude", cfg.Agent.Command)
	assert.Equal(t, 50, cfg.Agent.MaxTurns)
	assert.Equal(t, "https://github.com/login/device/code", cfg.GitHub.DeviceURL)
	assert.Equal(t, 7482, cfg.Serve.Port)
	assert.Equal(t, "file", cfg.SessionStore)
}

func TestInitReadsConfigFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("SKILLBUILDER_BASE_PATH", base)

	content := `workspace_path: /tmp/ws
agent:
  model: opus
  max_turns: 12
github:
  client_id: abc123
`
	require.NoError(t, os.WriteFile(filepath.Join(base, "config.yaml"), []byte(content), 0o644))

	v := viper.New()
	require.NoError(t, Init(v))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ws", cfg.WorkspacePath)
	assert.Equal(t, "opus", cfg.Agent.Model)
	assert.Equal(t, 12, cfg.Agent.MaxTurns)
	assert.Equal(t, "abc123", cfg.GitHub.ClientID)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SKILLBUILDER_BASE_PATH", t.TempDir())
	t.Setenv("SKILLBUILDER_AGENT_MODEL", "haiku")

	v := viper.New()
	require.NoError(t, Init(v))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "haiku", cfg.Agent.Model)
}

func TestLoadDecodesStringValues(t *testing.T) {
	t.Setenv("SKILLBUILDER_BASE_PATH", t.TempDir())

	v := viper.New()
	SetDefaults(v)
	v.Set("serve.port", "9000")
	v.Set("agent.max_turns", "7")
	v.Set("tracing.enabled", "true")
	v.Set("github.scopes", "repo,gist")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Serve.Port)
	assert.Equal(t, 7, cfg.Agent.MaxTurns)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, []string{"repo", "gist"}, cfg.GitHub.Scopes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing workspace", Config{Agent: AgentConfig{Command: "claude"}}, "workspace_path"},
		{"missing command", Config{WorkspacePath: "ws"}, "agent.command"},
		{"bad session store", Config{WorkspacePath: "ws", Agent: AgentConfig{Command: "c"}, SessionStore: "redis"}, "session_store"},
		{"bad port", Config{WorkspacePath: "ws", Agent: AgentConfig{Command: "c"}, Serve: ServeConfig{Port: 70000}}, "serve.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
