package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbuilder/pkg/feedback"
	"github.com/jingkaihe/skillbuilder/pkg/presenter"
)

// FeedbackConfig holds configuration for the feedback command
type FeedbackConfig struct {
	Type  string
	Title string
	Body  string
}

// NewFeedbackConfig creates a new FeedbackConfig with default values
func NewFeedbackConfig() *FeedbackConfig {
	return &FeedbackConfig{
		Type:  string(feedback.TypeOther),
		Title: "",
		Body:  "",
	}
}

var feedbackCmd = withTracing(&cobra.Command{
	Use:   "feedback",
	Short: "Report a bug or request a feature",
	Long: `Report a bug or request a feature. Feedback is always kept in the local
outbox; when github.feedback_repo is configured and you are logged in, an
issue is opened as well.

Example:
  skillbuilder feedback --type bug --title "Gate dialog hangs" --body "Steps to reproduce..."
  echo "details" | skillbuilder feedback --type feature --title "Export to tar" --body -`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		config, err := getFeedbackConfigFromFlags(cmd)
		if err != nil {
			exitWithError(err, "Invalid feedback")
		}
		t, err := feedback.ParseType(config.Type)
		if err != nil {
			exitWithError(err, "Invalid feedback type")
		}

		a := mustApp(ctx)
		defer a.Close()

		svc, err := a.feedbackService(ctx)
		if err != nil {
			exitWithError(err, "Failed to initialize feedback")
		}
		ref, err := svc.Submit(ctx, feedback.Feedback{Type: t, Title: config.Title, Body: config.Body})
		if err != nil {
			exitWithError(err, "Failed to submit feedback")
		}
		if _, parseErr := uuid.Parse(ref); parseErr == nil {
			presenter.Success(fmt.Sprintf("Feedback saved locally (%s)", ref))
			return
		}
		presenter.Success(fmt.Sprintf("Feedback submitted: %s", ref))
	},
})

func init() {
	defaults := NewFeedbackConfig()
	feedbackCmd.Flags().String("type", defaults.Type, "Feedback type (bug, feature or other)")
	feedbackCmd.Flags().String("title", defaults.Title, "Short summary")
	feedbackCmd.Flags().String("body", defaults.Body, "Details, or - to read from standard input")
}

func getFeedbackConfigFromFlags(cmd *cobra.Command) (*FeedbackConfig, error) {
	config := NewFeedbackConfig()
	if t, err := cmd.Flags().GetString("type"); err == nil {
		config.Type = t
	}
	if title, err := cmd.Flags().GetString("title"); err == nil {
		config.Title = strings.TrimSpace(title)
	}
	if body, err := cmd.Flags().GetString("body"); err == nil {
		config.Body = body
	}
	if config.Title == "" {
		return nil, errors.New("--title is required")
	}
	body, err := readText(config.Body, cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	config.Body = body
	return config, nil
}
