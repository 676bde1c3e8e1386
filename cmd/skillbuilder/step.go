package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbuilder/pkg/presenter"
	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
	"github.com/jingkaihe/skillbuilder/pkg/workflow"
)

// StepConfig holds configuration for the step run command
type StepConfig struct {
	Domain  string
	NoWait  bool
	Confirm bool
}

// NewStepConfig creates a new StepConfig with default values
func NewStepConfig() *StepConfig {
	return &StepConfig{
		Domain:  "",
		NoWait:  false,
		Confirm: true,
	}
}

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Run and inspect workflow steps",
}

var stepListCmd = withTracing(&cobra.Command{
	Use:   "list",
	Short: "List the workflow steps",
	Run: func(_ *cobra.Command, _ []string) {
		presenter.Table([]string{"#", "STEP", "KIND", "OUTPUTS"}, stepRows())
	},
})

var stepRunCmd = withTracing(&cobra.Command{
	Use:   "run <skill> <step>",
	Short: "Run the agent for one workflow step",
	Long: `Run the agent for one workflow step of a skill and wait for it to finish.

Steps are numbered from 0 (Research). Review steps are edited by hand in the
workspace and cannot be run.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getStepConfigFromFlags(cmd)

		index, err := strconv.Atoi(args[1])
		if err != nil {
			exitWithError(errors.Errorf("invalid step %q", args[1]), "Step must be a number")
		}

		a := mustApp(ctx)
		defer a.Close()

		runID, err := a.engine.RunStep(ctx, args[0], index, config.Domain, a.cfg.WorkspacePath)
		if err != nil {
			exitWithError(err, "Failed to start step")
		}
		if config.NoWait {
			presenter.Info(fmt.Sprintf("Started run %s", runID))
			return
		}

		run, err := waitRun(ctx, a, runID, "Running step...", config.Confirm)
		if err != nil {
			exitWithError(err, "Step did not finish")
		}
		reportRun(run)
		if run.Status == agenttypes.RunStatusError {
			exitWithError(errors.New(agenttypes.ErrorText(run)), "Step failed")
		}
	},
})

func init() {
	defaults := NewStepConfig()
	stepRunCmd.Flags().String("domain", defaults.Domain, "Domain the skill covers")
	stepRunCmd.Flags().Bool("no-wait", defaults.NoWait, "Return as soon as the agent started")
	stepRunCmd.Flags().Bool("confirm-interrupt", defaults.Confirm, "Ask before stopping a running agent on Ctrl+C")

	stepCmd.AddCommand(stepListCmd, stepRunCmd)
}

func getStepConfigFromFlags(cmd *cobra.Command) *StepConfig {
	config := NewStepConfig()
	if domain, err := cmd.Flags().GetString("domain"); err == nil {
		config.Domain = domain
	}
	if noWait, err := cmd.Flags().GetBool("no-wait"); err == nil {
		config.NoWait = noWait
	}
	if confirm, err := cmd.Flags().GetBool("confirm-interrupt"); err == nil {
		config.Confirm = confirm
	}
	return config
}

func stepRows() [][]string {
	rows := make([][]string, 0, len(workflow.Steps))
	for _, s := range workflow.Steps {
		kind := "agent"
		if s.Human {
			kind = "review"
		}
		rows = append(rows, []string{strconv.Itoa(s.Index), s.Name, kind, strings.Join(s.Outputs, ", ")})
	}
	return rows
}

// waitRun blocks until runID finishes. Ctrl+C stops the agent, after
// confirmation when confirm is set.
func waitRun(ctx context.Context, a *app, runID, message string, confirm bool) (agenttypes.AgentRun, error) {
	ask := func(string) bool { return true }
	if confirm {
		ask = presenter.Confirm
	}
	waitCtx, cancel := interruptContext(ctx, a.registry.HasActive, ask)
	defer cancel()

	stop := make(chan struct{})
	go spinUntil(stop, message)
	run, err := a.engine.Wait(waitCtx, runID)
	close(stop)
	if err == nil {
		return run, nil
	}

	a.runner.Cancel(runID)
	return a.engine.Wait(context.Background(), runID)
}

func reportRun(run agenttypes.AgentRun) {
	presenter.Stats(presenter.ConvertUsageStats(run, time.Now()))
	switch run.Status {
	case agenttypes.RunStatusCompleted:
		presenter.Success(fmt.Sprintf("Run %s completed", run.ID))
	case agenttypes.RunStatusError:
		presenter.Warning(fmt.Sprintf("Run %s ended with an error", run.ID))
	}
}
