package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbuilder/pkg/gate"
	"github.com/jingkaihe/skillbuilder/pkg/presenter"
	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
	"github.com/jingkaihe/skillbuilder/pkg/tui"
	"github.com/jingkaihe/skillbuilder/pkg/workflow"
)

// GateConfig holds configuration for the gate command
type GateConfig struct {
	Kind     gate.Kind
	Evaluate bool
	Action   string
	NoTUI    bool
}

// NewGateConfig creates a new GateConfig with default values
func NewGateConfig() *GateConfig {
	return &GateConfig{
		Kind:     gate.KindClarifications,
		Evaluate: false,
		Action:   "",
		NoTUI:    false,
	}
}

var gateCmd = withTracing(&cobra.Command{
	Use:   "gate <skill>",
	Short: "Decide how to continue after answering questions",
	Long: `Read the evaluation of the answers of a skill and choose how the workflow
continues: skip ahead, run the next research step anyway, let the agent fill
the gaps, or go back and answer the questions yourself.

Examples:
  skillbuilder gate my-skill --evaluate
  skillbuilder gate my-skill --kind refinements --action skip`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config, err := getGateConfigFromFlags(cmd)
		if err != nil {
			exitWithError(err, "Invalid flags")
		}
		if err := runGate(ctx, args[0], config); err != nil {
			exitWithError(err, "Gate failed")
		}
	},
})

func init() {
	defaults := NewGateConfig()
	gateCmd.Flags().String("kind", string(defaults.Kind), "Gate to evaluate (clarifications or refinements)")
	gateCmd.Flags().Bool("evaluate", defaults.Evaluate, "Run the evaluator agent before deciding")
	gateCmd.Flags().String("action", defaults.Action, "Choose without a dialog (skip, run_anyway, auto_fill, let_me_answer)")
	gateCmd.Flags().Bool("no-tui", defaults.NoTUI, "Ask on the plain terminal instead of the interactive dialog")
}

func getGateConfigFromFlags(cmd *cobra.Command) (*GateConfig, error) {
	config := NewGateConfig()
	if kind, err := cmd.Flags().GetString("kind"); err == nil {
		k, err := gate.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		config.Kind = k
	}
	if evaluate, err := cmd.Flags().GetBool("evaluate"); err == nil {
		config.Evaluate = evaluate
	}
	if action, err := cmd.Flags().GetString("action"); err == nil {
		config.Action = strings.TrimSpace(action)
	}
	if noTUI, err := cmd.Flags().GetBool("no-tui"); err == nil {
		config.NoTUI = noTUI
	}
	return config, nil
}

func runGate(ctx context.Context, skillName string, config *GateConfig) error {
	a := mustApp(ctx)
	defer a.Close()
	ws := a.cfg.WorkspacePath

	if config.Evaluate {
		runID, err := a.engine.StartEvaluation(ctx, config.Kind, skillName, ws)
		if err != nil {
			return err
		}
		run, err := waitRun(ctx, a, runID, "Evaluating answers...", true)
		if err != nil {
			return err
		}
		if run.Status != agenttypes.RunStatusCompleted {
			return errors.Errorf("evaluation failed: %s", agenttypes.ErrorText(run))
		}
	}

	decision, err := a.engine.EvaluateGate(ctx, config.Kind, skillName, ws)
	if err != nil {
		return err
	}
	g := gate.New(decision)

	out, ok, err := chooseOutcome(ctx, g, config)
	if err != nil {
		return err
	}
	if !ok {
		presenter.Info("No action chosen")
		return nil
	}

	if out.AutoFill {
		runID, err := a.engine.AutoFill(ctx, config.Kind, skillName, ws)
		if err != nil {
			return err
		}
		run, err := waitRun(ctx, a, runID, "Filling in answers...", true)
		if err != nil {
			return err
		}
		if run.Status != agenttypes.RunStatusCompleted {
			return errors.Errorf("auto-fill failed: %s", agenttypes.ErrorText(run))
		}
	}

	next := workflow.NextStep(config.Kind, out)
	step, err := workflow.StepAt(next)
	if err != nil {
		return err
	}
	presenter.Success(fmt.Sprintf("%s: continue with step %d (%s)", tui.ActionLabel(config.Kind, out.Action), step.Index, step.Name))
	if !step.Human {
		presenter.Info(fmt.Sprintf("Run `skillbuilder step run %s %d`", skillName, step.Index))
	}
	return nil
}

// chooseOutcome resolves g from --action, a line prompt, or the dialog.
func chooseOutcome(ctx context.Context, g *gate.Gate, config *GateConfig) (gate.Outcome, bool, error) {
	if config.Action != "" {
		out, err := g.Choose(gate.Action(config.Action))
		return out, err == nil, err
	}
	if !config.NoTUI {
		return tui.RunGateDialog(ctx, g)
	}

	d := g.Decision()
	presenter.Section(d.Title)
	presenter.Info(d.Message)
	choices := make([]string, len(d.Actions))
	for i, action := range d.Actions {
		choices[i] = string(action)
		presenter.Info(fmt.Sprintf("  %s: %s", action, tui.ActionLabel(d.Kind, action)))
	}
	answer := presenter.Prompt("Choose an action", choices...)
	if answer == "" {
		return gate.Outcome{}, false, nil
	}
	out, err := g.Choose(gate.Action(answer))
	return out, err == nil, err
}
