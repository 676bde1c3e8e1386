package auth

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/jingkaihe/skillbuilder/pkg/config"
)

// ErrNotLoggedIn is returned when no credentials are stored.
var ErrNotLoggedIn = errors.New("not logged in to GitHub, run `skillbuilder login`")

// Credentials is the stored result of a successful device flow.
type Credentials struct {
	Token     string    `json:"access_token"`
	Scope     string    `json:"scope,omitempty"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

// CredentialsPath returns the default credentials file.
func CredentialsPath() (string, error) {
	base, err := config.BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "github.json"), nil
}

// CredentialsFromState builds credentials from a successful flow state.
func CredentialsFromState(s State, now time.Time) (Credentials, error) {
	if s.Phase != PhaseSuccess || s.Token == "" {
		return Credentials{}, errors.Errorf("device flow has not succeeded (%s)", s.Phase)
	}
	c := Credentials{Token: s.Token, Scope: s.Scope, CreatedAt: now}
	if s.User != nil {
		c.User = *s.User
	}
	return c, nil
}

// SaveCredentials writes creds to path with owner-only permissions.
func SaveCredentials(path string, creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "failed to create credentials directory")
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal credentials")
	}
	if err := lockedfile.Write(path, bytes.NewReader(data), 0o600); err != nil {
		return errors.Wrap(err, "failed to write credentials")
	}
	return nil
}

// LoadCredentials reads the credentials at path. It returns ErrNotLoggedIn
// when the file does not exist.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := lockedfile.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotLoggedIn
		}
		return nil, errors.Wrap(err, "failed to read credentials")
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errors.Wrap(err, "failed to decode credentials")
	}
	if creds.Token == "" {
		return nil, ErrNotLoggedIn
	}
	return &creds, nil
}

// DeleteCredentials removes the credentials at path.
func DeleteCredentials(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete credentials")
	}
	return nil
}
