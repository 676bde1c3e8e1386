// Package feedback records user feedback in a local outbox and, when a
// GitHub repository is configured, files it as an issue.
package feedback

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/jingkaihe/skillbuilder/pkg/auth"
	"github.com/jingkaihe/skillbuilder/pkg/config"
	"github.com/jingkaihe/skillbuilder/pkg/logger"
)

// Type is the category of a feedback entry.
type Type string

const (
	TypeBug     Type = "bug"
	TypeFeature Type = "feature"
	TypeOther   Type = "other"
)

// ParseType validates s. An empty string means TypeOther.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeBug, TypeFeature, TypeOther:
		return t, nil
	case "":
		return TypeOther, nil
	default:
		return "", errors.Errorf("unknown feedback type %q (want bug, feature or other)", s)
	}
}

func (t Type) label() string {
	if t == TypeFeature {
		return "enhancement"
	}
	return string(t)
}

// Feedback is what the user submits.
type Feedback struct {
	Type  Type   `json:"type"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Entry is one line of the outbox.
type Entry struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	IssueURL  string    `json:"issue_url,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IssueCreator files an issue and returns its URL.
type IssueCreator interface {
	CreateIssue(ctx context.Context, title, body string, labels []string) (string, error)
}

// Service submits feedback.
type Service struct {
	outbox string
	issues IssueCreator
	now    func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithIssueCreator files every submission as an issue as well.
func WithIssueCreator(ic IssueCreator) Option {
	return func(s *Service) {
		s.issues = ic
	}
}

// DefaultOutboxPath returns <base>/feedback/outbox.jsonl.
func DefaultOutboxPath() (string, error) {
	base, err := config.BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "feedback", "outbox.jsonl"), nil
}

// NewService creates a service writing to the outbox file at path.
func NewService(path string, opts ...Option) *Service {
	s := &Service{outbox: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates fb, files it as an issue when an issue creator is set
// and appends it to the outbox. It returns the issue URL, or the entry id
// when no issue was filed. The entry is kept in the outbox even when the
// issue cannot be created.
func (s *Service) Submit(ctx context.Context, fb Feedback) (string, error) {
	t, err := ParseType(string(fb.Type))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(fb.Title) == "" {
		return "", errors.New("feedback title must not be empty")
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Type:      t,
		Title:     strings.TrimSpace(fb.Title),
		Body:      fb.Body,
		CreatedAt: s.now().UTC(),
	}

	var issueErr error
	if s.issues != nil {
		entry.IssueURL, issueErr = s.issues.CreateIssue(ctx, entry.Title, entry.Body, []string{t.label()})
		if issueErr != nil {
			entry.Error = issueErr.Error()
			logger.G(ctx).WithError(issueErr).WithField("feedback_id", entry.ID).Warn("failed to create feedback issue")
		}
	}

	if err := s.appendEntry(entry); err != nil {
		return "", err
	}
	if issueErr != nil {
		return "", errors.Wrapf(issueErr, "feedback %s saved locally but the issue was not created", entry.ID)
	}

	logger.G(ctx).WithField("feedback_id", entry.ID).Debug("feedback submitted")
	if entry.IssueURL != "" {
		return entry.IssueURL, nil
	}
	return entry.ID, nil
}

func (s *Service) appendEntry(e Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.outbox), 0o755); err != nil {
		return errors.Wrap(err, "failed to create feedback directory")
	}
	line, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to marshal feedback")
	}

	f, err := lockedfile.OpenFile(s.outbox, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return errors.Wrap(err, "failed to open feedback outbox")
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "failed to write feedback outbox")
	}
	return nil
}

// Entries returns the outbox contents, oldest first. Lines that do not
// decode are skipped.
func (s *Service) Entries(ctx context.Context) ([]Entry, error) {
	data, err := lockedfile.Read(s.outbox)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, errors.Wrap(err, "failed to read feedback outbox")
	}

	entries := []Entry{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			logger.G(ctx).WithError(err).Warn("skipping malformed feedback entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// GitHubIssues creates issues in one repository.
type GitHubIssues struct {
	client *github.Client
	owner  string
	name   string
}

// NewGitHubIssues returns an issue creator authenticated with token. repo
// is "owner/name". base is the http client used under the oauth2
// transport and may be nil.
func NewGitHubIssues(ctx context.Context, apiURL, repo, token string, base *http.Client) (*GitHubIssues, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, errors.Errorf("invalid feedback repository %q (want owner/name)", repo)
	}
	if token == "" {
		return nil, errors.New("a GitHub token is required to file feedback issues")
	}
	client, err := auth.NewGitHubClient(ctx, apiURL, token, base)
	if err != nil {
		return nil, err
	}
	return &GitHubIssues{client: client, owner: owner, name: name}, nil
}

// CreateIssue implements IssueCreator.
func (g *GitHubIssues) CreateIssue(ctx context.Context, title, body string, labels []string) (string, error) {
	req := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}

	issue, _, err := g.client.Issues.Create(ctx, g.owner, g.name, req)
	if err != nil {
		return "", errors.Wrap(err, "failed to create issue")
	}
	return issue.GetHTMLURL(), nil
}
