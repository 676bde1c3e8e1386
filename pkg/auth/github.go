// Package auth implements the GitHub device authorization flow and the
// credentials it produces.
package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jingkaihe/skillbuilder/pkg/logger"
	"github.com/jingkaihe/skillbuilder/pkg/telemetry"
)

// DeviceCode is the provider's answer to a device authorization request.
type DeviceCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	// Interval is the minimum delay between token polls.
	Interval time.Duration
	Expiry   time.Time
}

// User is the authenticated account.
type User struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// PollStatus is the outcome of one token poll.
type PollStatus string

const (
	PollPending  PollStatus = "pending"
	PollSlowDown PollStatus = "slow_down"
	PollSuccess  PollStatus = "success"
	PollDenied   PollStatus = "denied"
	PollExpired  PollStatus = "expired"
	PollError    PollStatus = "error"
)

// PollResult is one token poll response.
type PollResult struct {
	Status  PollStatus
	Token   string
	Scope   string
	User    *User
	Message string
}

// Provider is an OAuth device flow identity provider.
type Provider interface {
	RequestCode(ctx context.Context) (*DeviceCode, error)
	Exchange(ctx context.Context, deviceCode string) (PollResult, error)
}

// GitHubConfig configures GitHubProvider.
type GitHubConfig struct {
	ClientID  string
	Scopes    []string
	DeviceURL string
	TokenURL  string
	APIURL    string
}

// GitHubProvider runs the device flow against GitHub.
type GitHubProvider struct {
	oauth  *oauth2.Config
	apiURL string
	client *http.Client
}

// NewGitHubProvider creates a provider. A nil client uses http.DefaultClient.
func NewGitHubProvider(cfg GitHubConfig, client *http.Client) *GitHubProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &GitHubProvider{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: cfg.DeviceURL,
				TokenURL:      cfg.TokenURL,
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		apiURL: strings.TrimSuffix(cfg.APIURL, "/"),
		client: client,
	}
}

func (p *GitHubProvider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

// RequestCode starts a device authorization.
func (p *GitHubProvider) RequestCode(ctx context.Context) (*DeviceCode, error) {
	resp, err := p.oauth.DeviceAuth(p.withClient(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "failed to request device code")
	}
	return &DeviceCode{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		Interval:        time.Duration(resp.Interval) * time.Second,
		Expiry:          resp.Expiry,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// Exchange polls the token endpoint once. Pending and slow_down are
// reported as statuses, not errors.
func (p *GitHubProvider) Exchange(ctx context.Context, deviceCode string) (PollResult, error) {
	var res PollResult
	err := telemetry.WithSpan(ctx, "auth.exchange", func(ctx context.Context) error {
		var err error
		res, err = p.exchange(ctx, deviceCode)
		return err
	})
	return res, err
}

func (p *GitHubProvider) exchange(ctx context.Context, deviceCode string) (PollResult, error) {
	data := url.Values{
		"client_id":   {p.oauth.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.oauth.Endpoint.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return PollResult{}, errors.Wrap(err, "failed to create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return PollResult{}, errors.Wrap(err, "failed to send token request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PollResult{}, errors.Wrap(err, "failed to read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return PollResult{}, errors.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return PollResult{}, errors.Wrap(err, "failed to decode token response")
	}

	switch tr.Error {
	case "":
		if tr.AccessToken == "" {
			return PollResult{Status: PollError, Message: "token response has no access token"}, nil
		}
	case "authorization_pending":
		return PollResult{Status: PollPending}, nil
	case "slow_down":
		return PollResult{Status: PollSlowDown}, nil
	case "access_denied":
		return PollResult{Status: PollDenied, Message: describe(tr, "authorization was denied")}, nil
	case "expired_token":
		return PollResult{Status: PollExpired, Message: describe(tr, "the device code expired")}, nil
	default:
		return PollResult{Status: PollError, Message: describe(tr, tr.Error)}, nil
	}

	user, err := p.FetchUser(ctx, tr.AccessToken)
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{Status: PollSuccess, Token: tr.AccessToken, Scope: tr.Scope, User: user}, nil
}

func describe(tr tokenResponse, fallback string) string {
	if tr.ErrorDesc != "" {
		return tr.ErrorDesc
	}
	return fallback
}

// FetchUser returns the account that owns token.
func (p *GitHubProvider) FetchUser(ctx context.Context, token string) (*User, error) {
	client, err := NewGitHubClient(ctx, p.apiURL, token, p.client)
	if err != nil {
		return nil, err
	}

	var user User
	err = retry.Do(
		func() error {
			u, resp, err := client.Users.Get(ctx, "")
			if err != nil {
				if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
					return retry.Unrecoverable(errors.Errorf("user request rejected with status %d", resp.StatusCode))
				}
				return err
			}
			user = User{
				Login:     u.GetLogin(),
				Name:      u.GetName(),
				Email:     u.GetEmail(),
				AvatarURL: u.GetAvatarURL(),
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Warn("retrying GitHub user request")
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch GitHub user")
	}
	return &user, nil
}
