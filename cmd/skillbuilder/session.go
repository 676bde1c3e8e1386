package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbuilder/pkg/presenter"
	"github.com/jingkaihe/skillbuilder/pkg/reasoning"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Drive the reasoning conversation that confirms decisions",
	Long: `Drive the reasoning conversation of a skill. The agent asks follow-up
questions, summarises its understanding and finally reports that the decisions
are ready. Each subcommand takes one turn and prints where the session stands.

Text arguments may be "-" to read from standard input.`,
}

var sessionShowCmd = withTracing(&cobra.Command{
	Use:   "show <skill>",
	Short: "Show the reasoning session of a skill",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustApp(ctx)
		defer a.Close()

		s, err := a.session(ctx, args[0])
		if err != nil {
			exitWithError(err, "Failed to load reasoning session")
		}
		transcript, _ := cmd.Flags().GetBool("transcript")
		printSession(s, transcript)
	},
})

var sessionStartCmd = withTracing(&cobra.Command{
	Use:   "start <skill>",
	Short: "Start the reasoning session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSessionTurn(cmd.Context(), args[0], func(ctx context.Context, s *reasoning.Session, l reasoning.Launcher) (string, error) {
			return s.Start(ctx, l)
		})
	},
})

var sessionAnswerCmd = withTracing(&cobra.Command{
	Use:   "answer <skill> <answers|->",
	Short: "Answer the follow-up questions",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		text := mustReadText(args[1])
		runSessionTurn(cmd.Context(), args[0], func(ctx context.Context, s *reasoning.Session, l reasoning.Launcher) (string, error) {
			return s.SubmitAnswers(ctx, text, l)
		})
	},
})

var sessionConfirmCmd = withTracing(&cobra.Command{
	Use:   "confirm <skill>",
	Short: "Confirm the agent's summary",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSessionTurn(cmd.Context(), args[0], func(ctx context.Context, s *reasoning.Session, l reasoning.Launcher) (string, error) {
			return s.Confirm(ctx, l)
		})
	},
})

var sessionCorrectCmd = withTracing(&cobra.Command{
	Use:   "correct <skill> <corrections|->",
	Short: "Send corrections to the agent's summary",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		text := mustReadText(args[1])
		runSessionTurn(cmd.Context(), args[0], func(ctx context.Context, s *reasoning.Session, l reasoning.Launcher) (string, error) {
			return s.SubmitCorrections(ctx, text, l)
		})
	},
})

var sessionProceedCmd = withTracing(&cobra.Command{
	Use:   "proceed <skill>",
	Short: "Complete the session once the agent reports it is ready",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustApp(ctx)
		defer a.Close()

		s, err := a.session(ctx, args[0])
		if err != nil {
			exitWithError(err, "Failed to load reasoning session")
		}
		if err := s.Proceed(ctx); err != nil {
			exitWithError(err, "Cannot proceed")
		}
		presenter.Success("Reasoning complete, decisions are confirmed")
	},
})

var sessionResetCmd = withTracing(&cobra.Command{
	Use:   "reset <skill>",
	Short: "Discard the reasoning session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !presenter.Confirm(fmt.Sprintf("Discard the reasoning session of %s?", args[0])) {
			presenter.Info("Reset cancelled")
			return
		}

		a := mustApp(ctx)
		defer a.Close()

		s, err := a.session(ctx, args[0])
		if err != nil {
			exitWithError(err, "Failed to load reasoning session")
		}
		if err := s.Reset(ctx); err != nil {
			exitWithError(err, "Failed to reset reasoning session")
		}
		presenter.Success("Reasoning session reset")
	},
})

func init() {
	sessionShowCmd.Flags().Bool("transcript", false, "Print the whole conversation")
	sessionResetCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	sessionCmd.AddCommand(
		sessionShowCmd,
		sessionStartCmd,
		sessionAnswerCmd,
		sessionConfirmCmd,
		sessionCorrectCmd,
		sessionProceedCmd,
		sessionResetCmd,
	)
}

func mustReadText(arg string) string {
	text, err := readText(arg, os.Stdin)
	if err != nil {
		exitWithError(err, "Failed to read input")
	}
	return text
}

// runSessionTurn launches one reasoning turn and waits for the agent.
// Interrupting stops the agent; the session records the failed turn.
func runSessionTurn(ctx context.Context, skillName string, turn func(context.Context, *reasoning.Session, reasoning.Launcher) (string, error)) {
	a := mustApp(ctx)
	defer a.Close()

	s, err := a.session(ctx, skillName)
	if err != nil {
		exitWithError(err, "Failed to load reasoning session")
	}
	defer s.Close()

	runID, err := turn(ctx, s, a.engine.ReasoningLauncher(skillName, a.cfg.WorkspacePath))
	if err != nil {
		exitWithError(err, "Failed to start reasoning turn")
	}

	waitCtx, cancel := interruptContext(ctx, a.registry.HasActive, presenter.Confirm)
	defer cancel()

	stop := make(chan struct{})
	go spinUntil(stop, "Agent is thinking...")
	_, err = a.engine.Follow(waitCtx, s, runID)
	close(stop)

	if err != nil {
		a.runner.Cancel(runID)
		if run, waitErr := a.engine.Wait(context.Background(), runID); waitErr == nil {
			s.HandleRunResult(ctx, run)
		}
		presenter.Warning("Reasoning turn interrupted")
	}
	printSession(s, false)
}

func printSession(s *reasoning.Session, transcript bool) {
	state := s.State()
	presenter.Section(fmt.Sprintf("Reasoning: %s", s.SkillName()))
	presenter.Info(fmt.Sprintf("Phase: %s | Round: %d | Messages: %d", state.Phase, state.Round, len(state.Messages)))

	if msg := s.LastError(); msg != "" {
		presenter.Error(errors.New(msg), "Last turn failed")
	}

	if transcript {
		if len(state.Messages) > 0 {
			fmt.Println(state.Transcript())
		}
		return
	}

	switch state.Phase {
	case reasoning.PhaseNotStarted:
		presenter.Info("Run `skillbuilder session start` to begin")
	case reasoning.PhaseFollowUp:
		fmt.Println(strings.TrimSpace(s.Questions()))
		presenter.Info("Answer with `skillbuilder session answer`")
	case reasoning.PhaseSummary:
		fmt.Println(strings.TrimSpace(state.LastAgentMessage()))
		presenter.Info("Confirm with `skillbuilder session confirm` or send corrections with `skillbuilder session correct`")
	case reasoning.PhaseGateCheck:
		fmt.Println(strings.TrimSpace(state.LastAgentMessage()))
		presenter.Info("Finish with `skillbuilder session proceed`")
	case reasoning.PhaseCompleted:
		presenter.Success("Decisions confirmed")
	}
}
