package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jingkaihe/skillbuilder/pkg/logger"
)

// NewGitHubClient creates a GitHub API client authenticated with token.
// apiURL overrides the REST endpoint when set. base is the http client
// under the oauth2 transport and may be nil.
func NewGitHubClient(ctx context.Context, apiURL, token string, base *http.Client) (*github.Client, error) {
	log := logger.G(ctx)

	var client *github.Client
	if token == "" {
		log.Warn("no GitHub token provided, API rate limits will be restricted")
		client = github.NewClient(base)
	} else {
		if base != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		client = github.NewClient(oauth2.NewClient(ctx, ts))
	}

	if apiURL != "" {
		u, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, errors.Wrapf(err, "invalid GitHub API URL %q", apiURL)
		}
		client.BaseURL = u
	}
	return client, nil
}
