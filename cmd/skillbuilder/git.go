package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbuilder/pkg/gitsync"
	"github.com/jingkaihe/skillbuilder/pkg/presenter"
)

var gitCmd = &cobra.Command{
	Use:   "git",
	Short: "Sync the workspace with its git remote",
}

var gitPullCmd = withTracing(&cobra.Command{
	Use:   "pull",
	Short: "Pull workspace changes from the remote",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		a := mustApp(ctx)
		defer a.Close()

		token, err := a.token(ctx)
		if err != nil {
			exitWithError(err, "GitHub login required")
		}
		res, err := a.git.Pull(ctx, a.cfg.WorkspacePath, token)
		if err != nil {
			exitWithError(err, "Pull failed")
		}
		if res.UpToDate {
			presenter.Info("Workspace is up to date")
			return
		}
		presenter.Success(fmt.Sprintf("Pulled %d commit(s)", res.CommitsPulled))
	},
})

var gitPushCmd = withTracing(&cobra.Command{
	Use:   "push",
	Short: "Commit and push workspace changes",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		message, _ := cmd.Flags().GetString("message")

		a := mustApp(ctx)
		defer a.Close()

		token, err := a.token(ctx)
		if err != nil {
			exitWithError(err, "GitHub login required")
		}
		if err := a.git.Push(ctx, a.cfg.WorkspacePath, token, message); err != nil {
			exitWithError(err, "Push failed")
		}
		presenter.Success("Workspace pushed")
	},
})

func init() {
	gitPushCmd.Flags().StringP("message", "m", gitsync.DefaultCommitMessage, "Commit message")
	gitCmd.AddCommand(gitPullCmd, gitPushCmd)
}
