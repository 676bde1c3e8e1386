package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGitHub(t *testing.T, tokenReplies []string) (*GitHubProvider, *int32) {
	t.Helper()
	var userCalls int32
	var tokenCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client-1", r.Form.Get("client_id"))
		assert.Equal(t, "repo read:user", r.Form.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "dev-123",
			"user_code":        "ABCD-1234",
			"verification_uri": "https://github.com/login/device",
			"expires_in":       900,
			"interval":         5,
		})
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dev-123", r.Form.Get("device_code"))
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:device_code", r.Form.Get("grant_type"))
		n := atomic.AddInt32(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tokenReplies[int(n)-1]))
	})
	mux.HandleFunc("/api/user", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&userCalls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "Bearer gho_abc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"login":"octocat","name":"The Octocat","avatar_url":"https://avatars/1"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := NewGitHubProvider(GitHubConfig{
		ClientID:  "client-1",
		Scopes:    []string{"repo", "read:user"},
		DeviceURL: srv.URL + "/login/device/code",
		TokenURL:  srv.URL + "/login/oauth/access_token",
		APIURL:    srv.URL + "/api/",
	}, srv.Client())
	return p, &userCalls
}

func TestGitHubRequestCode(t *testing.T) {
	p, _ := newGitHub(t, nil)
	code, err := p.RequestCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dev-123", code.DeviceCode)
	assert.Equal(t, "ABCD-1234", code.UserCode)
	assert.Equal(t, 5*time.Second, code.Interval)
}

func TestGitHubExchange(t *testing.T) {
	p, userCalls := newGitHub(t, []string{
		`{"error":"authorization_pending"}`,
		`{"error":"slow_down","interval":10}`,
		`{"error":"access_denied","error_description":"denied by user"}`,
		`{"error":"expired_token"}`,
		`{"error":"unsupported_grant_type"}`,
		`{"access_token":"gho_abc","token_type":"bearer","scope":"repo"}`,
	})
	ctx := context.Background()

	want := []PollResult{
		{Status: PollPending},
		{Status: PollSlowDown},
		{Status: PollDenied, Message: "denied by user"},
		{Status: PollExpired, Message: "the device code expired"},
		{Status: PollError, Message: "unsupported_grant_type"},
	}
	for _, w := range want {
		got, err := p.Exchange(ctx, "dev-123")
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}

	got, err := p.Exchange(ctx, "dev-123")
	require.NoError(t, err)
	assert.Equal(t, PollSuccess, got.Status)
	assert.Equal(t, "gho_abc", got.Token)
	assert.Equal(t, "repo", got.Scope)
	require.NotNil(t, got.User)
	assert.Equal(t, "octocat", got.User.Login)
	assert.Equal(t, int32(2), atomic.LoadInt32(userCalls), "user lookup is retried")
}

func TestGitHubFlowEndToEnd(t *testing.T) {
	p, _ := newGitHub(t, []string{
		`{"error":"authorization_pending"}`,
		`{"access_token":"gho_abc","scope":"repo"}`,
	})
	clock := &fakeClock{}
	f := NewFlow(p, WithClock(clock))
	startPolling(t, f)

	require.True(t, clock.fireNext())
	require.True(t, clock.fireNext())

	st, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", st.User.Login)
}

func TestFetchUserRejectedIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/api/user", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewGitHubProvider(GitHubConfig{APIURL: srv.URL + "/api"}, srv.Client())
	_, err := p.FetchUser(context.Background(), "bad-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewGitHubClient(t *testing.T) {
	c, err := NewGitHubClient(context.Background(), "https://ghe.example.com/api/v3", "tok", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://ghe.example.com/api/v3/", c.BaseURL.String())

	c, err = NewGitHubClient(context.Background(), "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/", c.BaseURL.String())
}
