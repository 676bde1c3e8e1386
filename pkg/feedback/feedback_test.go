package feedback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIssues struct {
	url    string
	err    error
	labels []string
}

func (f *fakeIssues) CreateIssue(_ context.Context, _, _ string, labels []string) (string, error) {
	f.labels = labels
	return f.url, f.err
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"bug", TypeBug, false},
		{" Feature ", TypeFeature, false},
		{"", TypeOther, false},
		{"praise", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmit_LocalOnly(t *testing.T) {
	ctx := context.Background()
	svc := NewService(filepath.Join(t.TempDir(), "feedback", "outbox.jsonl"))

	id, err := svc.Submit(ctx, Feedback{Type: TypeBug, Title: " Crash on gate ", Body: "steps"})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	_, err = svc.Submit(ctx, Feedback{Title: "second"})
	require.NoError(t, err)

	entries, err := svc.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "Crash on gate", entries[0].Title)
	assert.Equal(t, TypeBug, entries[0].Type)
	assert.Equal(t, TypeOther, entries[1].Type)
}

func TestSubmit_Validation(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "outbox.jsonl"))

	_, err := svc.Submit(context.Background(), Feedback{Type: TypeBug, Title: "  "})
	assert.Error(t, err)

	_, err = svc.Submit(context.Background(), Feedback{Type: "nope", Title: "x"})
	assert.Error(t, err)

	entries, err := svc.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmit_WithIssue(t *testing.T) {
	issues := &fakeIssues{url: "https://github.com/o/r/issues/7"}
	svc := NewService(filepath.Join(t.TempDir(), "outbox.jsonl"), WithIssueCreator(issues))

	id, err := svc.Submit(context.Background(), Feedback{Type: TypeFeature, Title: "Dark mode"})
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/o/r/issues/7", id)
	assert.Equal(t, []string{"enhancement"}, issues.labels)

	entries, err := svc.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].IssueURL)
}

func TestSubmit_IssueFailureKeepsEntry(t *testing.T) {
	issues := &fakeIssues{err: errors.New("boom")}
	svc := NewService(filepath.Join(t.TempDir(), "outbox.jsonl"), WithIssueCreator(issues))

	_, err := svc.Submit(context.Background(), Feedback{Type: TypeBug, Title: "Broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saved locally")

	entries, err := svc.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Error)
}

func TestGitHubIssues(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/skills/issues", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"html_url":"https://github.com/acme/skills/issues/1"}`))
	}))
	defer srv.Close()

	gh, err := NewGitHubIssues(context.Background(), srv.URL, "acme/skills", "tok", srv.Client())
	require.NoError(t, err)

	url, err := gh.CreateIssue(context.Background(), "T", "B", []string{"bug"})
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/skills/issues/1", url)
	assert.Equal(t, "T", got["title"])
	assert.Equal(t, []any{"bug"}, got["labels"])
}

func TestGitHubIssues_Errors(t *testing.T) {
	_, err := NewGitHubIssues(context.Background(), "http://x", "no-slash", "tok", nil)
	assert.Error(t, err)
	_, err = NewGitHubIssues(context.Background(), "http://x", "a/b", "", nil)
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	gh, err := NewGitHubIssues(context.Background(), srv.URL, "a/b", "tok", srv.Client())
	require.NoError(t, err)
	_, err = gh.CreateIssue(context.Background(), "T", "B", nil)
	assert.Error(t, err)
}

func TestGitHubIssues_NoLabels(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number":2,"html_url":"https://github.com/a/b/issues/2"}`))
	}))
	defer srv.Close()

	gh, err := NewGitHubIssues(context.Background(), srv.URL+"/", "a/b", "tok", srv.Client())
	require.NoError(t, err)

	url, err := gh.CreateIssue(context.Background(), "T", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/a/b/issues/2", url)
	assert.NotContains(t, got, "labels")
}
