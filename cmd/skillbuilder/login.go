package main

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbuilder/pkg/auth"
	"github.com/jingkaihe/skillbuilder/pkg/config"
	"github.com/jingkaihe/skillbuilder/pkg/presenter"
	"github.com/jingkaihe/skillbuilder/pkg/tui"
)

// LoginConfig holds configuration for the login command
type LoginConfig struct {
	NoBrowser bool
	Timeout   time.Duration
}

// NewLoginConfig creates a new LoginConfig with default values
func NewLoginConfig() *LoginConfig {
	return &LoginConfig{
		NoBrowser: false,
		Timeout:   15 * time.Minute,
	}
}

var loginCmd = withTracing(&cobra.Command{
	Use:   "login",
	Short: "Log in to GitHub with the device flow",
	Long: `Log in to GitHub using the OAuth device authorization flow.

A one-time code is shown and the verification page is opened in your browser.
Once you approve the request the token is stored in ~/.skillbuilder/github.json
and used for workspace sync and feedback issues.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		cfg := getLoginConfigFromFlags(cmd)
		if err := runLogin(ctx, appConfig.GitHub, cfg); err != nil {
			exitWithError(err, "Login failed")
		}
	},
})

var logoutCmd = withTracing(&cobra.Command{
	Use:   "logout",
	Short: "Remove the stored GitHub credentials",
	Run: func(_ *cobra.Command, _ []string) {
		path, err := auth.CredentialsPath()
		if err != nil {
			exitWithError(err, "Failed to locate credentials")
		}
		if err := auth.DeleteCredentials(path); err != nil {
			exitWithError(err, "Failed to remove credentials")
		}
		presenter.Success("Logged out of GitHub")
	},
})

func init() {
	defaults := NewLoginConfig()
	loginCmd.Flags().Bool("no-browser", defaults.NoBrowser, "Do not open the verification page automatically")
	loginCmd.Flags().Duration("timeout", defaults.Timeout, "Give up after this long")
}

func getLoginConfigFromFlags(cmd *cobra.Command) *LoginConfig {
	config := NewLoginConfig()
	if noBrowser, err := cmd.Flags().GetBool("no-browser"); err == nil {
		config.NoBrowser = noBrowser
	}
	if timeout, err := cmd.Flags().GetDuration("timeout"); err == nil && timeout > 0 {
		config.Timeout = timeout
	}
	return config
}

func runLogin(ctx context.Context, gh config.GitHubConfig, cfg *LoginConfig) error {
	if gh.ClientID == "" {
		return errors.New("github.client_id is not configured")
	}

	provider := auth.NewGitHubProvider(auth.GitHubConfig{
		ClientID:  gh.ClientID,
		Scopes:    gh.Scopes,
		DeviceURL: gh.DeviceURL,
		TokenURL:  gh.TokenURL,
		APIURL:    gh.APIURL,
	}, &http.Client{Timeout: 30 * time.Second})

	opener := openBrowser
	if cfg.NoBrowser {
		opener = func(string) error { return nil }
	}

	stopSpinner := func() {}
	dismissed := make(chan struct{})
	flow := auth.NewFlow(provider,
		auth.WithOpener(opener),
		auth.WithOnSuccess(func(st auth.State) {
			stopSpinner()
			if st.User != nil {
				presenter.Success(fmt.Sprintf("Authorized as %s", st.User.Login))
			}
		}),
		auth.WithOnDismiss(func() { close(dismissed) }),
	)
	defer flow.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := flow.Start(ctx); err != nil {
		return err
	}

	code := flow.State().Code
	presenter.Section("GitHub Login")
	presenter.Info(fmt.Sprintf("Enter the code %s at %s", code.UserCode, code.VerificationURI))

	stopSpinner = startSpinner("Waiting for authorization...")
	defer stopSpinner()
	if err := flow.OpenVerification(); err != nil {
		return err
	}

	state, err := flow.Wait(ctx)
	if err != nil {
		return err
	}

	creds, err := auth.CredentialsFromState(state, time.Now())
	if err != nil {
		return err
	}
	path, err := auth.CredentialsPath()
	if err != nil {
		return err
	}
	if err := auth.SaveCredentials(path, creds); err != nil {
		return err
	}

	select {
	case <-dismissed:
	case <-ctx.Done():
	}
	presenter.Info(fmt.Sprintf("Credentials saved to %s", path))
	return nil
}

// startSpinner runs spinUntil in the background. The returned function
// stops it and waits for the line to be cleared; it is safe to call twice.
func startSpinner(message string) func() {
	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		spinUntil(stop, message)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-exited
		})
	}
}

// spinUntil draws a spinner with message until stop is closed.
func spinUntil(stop <-chan struct{}, message string) {
	if presenter.IsQuiet() {
		return
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-stop:
			fmt.Print("\r\033[K")
			return
		case <-ticker.C:
			fmt.Printf("\r%s %s", tui.GetSpinnerChar(i), message)
		}
	}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
