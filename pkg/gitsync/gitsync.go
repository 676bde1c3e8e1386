// Package gitsync pulls and pushes a skill workspace with the git CLI.
package gitsync

import (
	"bytes"
	"context"
	"encoding/base64"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbuilder/pkg/logger"
	"github.com/jingkaihe/skillbuilder/pkg/telemetry"
)

// DefaultCommitMessage is used by Push when no message is given.
const DefaultCommitMessage = "Update skills"

// PullResult summarises a pull.
type PullResult struct {
	UpToDate      bool `json:"up_to_date"`
	CommitsPulled int  `json:"commits_pulled"`
}

// Client runs git in a workspace.
type Client struct {
	git      string
	attempts uint
	delay    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithGitBinary overrides the git executable.
func WithGitBinary(path string) Option {
	return func(c *Client) {
		c.git = path
	}
}

// WithRetry sets how often a push is attempted while the index is locked.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
	}
}

// New creates a client.
func New(opts ...Option) *Client {
	c := &Client{git: "git", attempts: 3, delay: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// authArgs passes token as an HTTP header for this invocation only.
func authArgs(token string) []string {
	if token == "" {
		return nil
	}
	basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	return []string{"-c", "http.extraHeader=Authorization: Basic " + basic}
}

func (c *Client) run(ctx context.Context, dir, token string, args ...string) (string, error) {
	full := append(authArgs(token), args...)
	cmd := exec.CommandContext(ctx, c.git, full...)
	cmd.Dir = dir
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if token != "" {
			msg = strings.ReplaceAll(msg, token, "***")
		}
		return "", errors.Wrapf(err, "git %s failed: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Pull fetches and fast-forwards the current branch.
func (c *Client) Pull(ctx context.Context, workspacePath, token string) (PullResult, error) {
	var result PullResult
	err := telemetry.WithSpan(ctx, "git.pull", func(ctx context.Context) error {
		before, err := c.run(ctx, workspacePath, "", "rev-parse", "HEAD")
		if err != nil {
			return err
		}
		if _, err := c.run(ctx, workspacePath, token, "pull", "--ff-only"); err != nil {
			return err
		}
		after, err := c.run(ctx, workspacePath, "", "rev-parse", "HEAD")
		if err != nil {
			return err
		}
		if before == after {
			result.UpToDate = true
			return nil
		}
		count, err := c.run(ctx, workspacePath, "", "rev-list", "--count", before+".."+after)
		if err != nil {
			return err
		}
		result.CommitsPulled, _ = strconv.Atoi(count)
		return nil
	})
	return result, err
}

// Push commits every change in the workspace and pushes it. Nothing is
// committed when the tree is clean.
func (c *Client) Push(ctx context.Context, workspacePath, token, message string) error {
	if strings.TrimSpace(message) == "" {
		message = DefaultCommitMessage
	}

	return telemetry.WithSpan(ctx, "git.push", func(ctx context.Context) error {
		return retry.Do(
			func() error {
				if _, err := c.run(ctx, workspacePath, "", "add", "-A"); err != nil {
					return err
				}
				status, err := c.run(ctx, workspacePath, "", "status", "--porcelain")
				if err != nil {
					return err
				}
				if status != "" {
					if _, err := c.run(ctx, workspacePath, "", "commit", "-m", message); err != nil {
						return err
					}
				}
				_, err = c.run(ctx, workspacePath, token, "push")
				return err
			},
			retry.Attempts(c.attempts),
			retry.Delay(c.delay),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
			retry.RetryIf(func(err error) bool {
				return strings.Contains(err.Error(), "index.lock")
			}),
			retry.OnRetry(func(n uint, err error) {
				logger.G(ctx).WithError(err).WithField("attempt", n+1).Warn("git index is locked, retrying push")
			}),
		)
	})
}
