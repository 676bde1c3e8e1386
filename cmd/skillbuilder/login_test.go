package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbuilder/pkg/auth"
	"github.com/jingkaihe/skillbuilder/pkg/config"
)

func TestGetLoginConfigFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "login"}
	defaults := NewLoginConfig()
	cmd.Flags().Bool("no-browser", defaults.NoBrowser, "")
	cmd.Flags().Duration("timeout", defaults.Timeout, "")

	cfg := getLoginConfigFromFlags(cmd)
	assert.False(t, cfg.NoBrowser)
	assert.Equal(t, 15*time.Minute, cfg.Timeout)

	require.NoError(t, cmd.Flags().Set("no-browser", "true"))
	require.NoError(t, cmd.Flags().Set("timeout", "0s"))
	cfg = getLoginConfigFromFlags(cmd)
	assert.True(t, cfg.NoBrowser)
	assert.Equal(t, 15*time.Minute, cfg.Timeout)
}

func TestRunLoginRequiresClientID(t *testing.T) {
	err := runLogin(context.Background(), config.GitHubConfig{}, NewLoginConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}

func TestRunLoginSavesCredentialsAfterDismiss(t *testing.T) {
	base := t.TempDir()
	t.Setenv("SKILLBUILDER_BASE_PATH", base)

	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "dev-1",
			"user_code":        "WXYZ-0000",
			"verification_uri": "https://github.com/login/device",
			"expires_in":       900,
			"interval":         1,
		})
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_login","scope":"repo"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"login":"octocat"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	gh := config.GitHubConfig{
		ClientID:  "client-1",
		Scopes:    []string{"repo"},
		DeviceURL: srv.URL + "/login/device/code",
		TokenURL:  srv.URL + "/login/oauth/access_token",
		APIURL:    srv.URL,
	}
	cfg := NewLoginConfig()
	cfg.NoBrowser = true
	cfg.Timeout = 30 * time.Second

	started := time.Now()
	require.NoError(t, runLogin(context.Background(), gh, cfg))
	assert.GreaterOrEqual(t, time.Since(started), auth.SuccessDismissDelay, "success stays visible before login returns")

	creds, err := auth.LoadCredentials(filepath.Join(base, "github.json"))
	require.NoError(t, err)
	assert.Equal(t, "gho_login", creds.Token)
	assert.Equal(t, "octocat", creds.User.Login)
}
