package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillbuilder/pkg/agent"
	"github.com/jingkaihe/skillbuilder/pkg/gate"
	"github.com/jingkaihe/skillbuilder/pkg/logger"
	"github.com/jingkaihe/skillbuilder/pkg/prompts"
	"github.com/jingkaihe/skillbuilder/pkg/reasoning"
	"github.com/jingkaihe/skillbuilder/pkg/telemetry"
	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

// Run labels recorded on agent runs.
const (
	LabelStep      = "step"
	LabelReasoning = "reasoning"
	LabelEvaluator = "evaluator"
	LabelAutoFill  = "autofill"
)

// AgentRunner starts agent runs and waits for them.
type AgentRunner interface {
	Start(ctx context.Context, req agent.Request) (string, error)
	Wait(ctx context.Context, runID string) (agenttypes.AgentRun, error)
}

// Engine runs workflow steps.
type Engine struct {
	runner   AgentRunner
	renderer *prompts.Renderer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRenderer replaces the embedded prompt templates.
func WithRenderer(r *prompts.Renderer) EngineOption {
	return func(e *Engine) {
		e.renderer = r
	}
}

// NewEngine creates an engine over runner.
func NewEngine(runner AgentRunner, opts ...EngineOption) *Engine {
	e := &Engine{runner: runner, renderer: prompts.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type stepData struct {
	SkillName     string
	Domain        string
	StepName      string
	StepIndex     int
	WorkspacePath string
	SkillDir      string
	ContextDir    string
	Outputs       []string
}

// RunStep starts the agent for stepIndex of skillName.
func (e *Engine) RunStep(ctx context.Context, skillName string, stepIndex int, domain, workspacePath string) (string, error) {
	step, err := StepAt(stepIndex)
	if err != nil {
		return "", err
	}
	if step.Human {
		return "", errors.Errorf("step %d (%s) is edited by the user and cannot run an agent", step.Index, step.Name)
	}
	if err := validateSkillName(skillName); err != nil {
		return "", err
	}

	contextDir := SkillContextDir(workspacePath, skillName)
	if err := os.MkdirAll(contextDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create skill context directory")
	}

	prompt, err := e.renderer.Render(prompts.StepTemplatePrefix+step.Template, stepData{
		SkillName:     skillName,
		Domain:        domain,
		StepName:      step.Name,
		StepIndex:     step.Index,
		WorkspacePath: workspacePath,
		SkillDir:      SkillDir(workspacePath, skillName),
		ContextDir:    contextDir,
		Outputs:       step.Outputs,
	})
	if err != nil {
		return "", err
	}

	logger.G(ctx).WithFields(logrus.Fields{"skill": skillName, "step": step.Name}).Info("running workflow step")
	var runID string
	err = telemetry.WithSpan(ctx, "workflow.run_step", func(ctx context.Context) error {
		var err error
		runID, err = e.runner.Start(ctx, agent.Request{
			Prompt:           prompt,
			WorkingDirectory: workspacePath,
			Label:            LabelStep,
			SkillName:        skillName,
			StepIndex:        step.Index,
		})
		return err
	}, attribute.String("skill.name", skillName), attribute.Int("step.index", step.Index))
	return runID, err
}

type evaluatorData struct {
	SkillName      string
	Kind           gate.Kind
	ContextDir     string
	SourceFile     string
	OutputFile     string
	EvaluationFile string
	Schema         string
}

func (e *Engine) evaluatorData(kind gate.Kind, skillName, workspacePath string) (evaluatorData, error) {
	schema, err := gate.ReportSchemaJSON()
	if err != nil {
		return evaluatorData{}, err
	}
	return evaluatorData{
		SkillName:      skillName,
		Kind:           kind,
		ContextDir:     SkillContextDir(workspacePath, skillName),
		SourceFile:     filepath.Base(GateSource(kind)),
		OutputFile:     gate.EvaluationFile,
		EvaluationFile: gate.EvaluationFile,
		Schema:         schema,
	}, nil
}

// StartEvaluation launches the evaluator agent that writes the answer
// evaluation a gate reads.
func (e *Engine) StartEvaluation(ctx context.Context, kind gate.Kind, skillName, workspacePath string) (string, error) {
	data, err := e.evaluatorData(kind, skillName, workspacePath)
	if err != nil {
		return "", err
	}
	prompt, err := e.renderer.Render(prompts.EvaluatorTemplate, data)
	if err != nil {
		return "", err
	}
	return e.runner.Start(ctx, agent.Request{
		Prompt:           prompt,
		WorkingDirectory: workspacePath,
		Label:            LabelEvaluator,
		SkillName:        skillName,
		StepIndex:        ReviewStep(kind),
	})
}

// EvaluateGate reads the latest answer evaluation of skillName and decides
// which dialog to present.
func (e *Engine) EvaluateGate(_ context.Context, kind gate.Kind, skillName, workspacePath string) (gate.Decision, error) {
	report, err := gate.LoadReport(filepath.Join(SkillContextDir(workspacePath, skillName), gate.EvaluationFile))
	if err != nil {
		return gate.Decision{}, err
	}
	if len(report.PerQuestion) == 0 {
		return gate.Decision{}, errors.Wrapf(gate.ErrEmptyEvaluation, "%s gate of %s", kind, skillName)
	}
	return gate.Decide(kind, report), nil
}

// AutoFill launches the agent that answers the open questions of a gate.
func (e *Engine) AutoFill(ctx context.Context, kind gate.Kind, skillName, workspacePath string) (string, error) {
	data, err := e.evaluatorData(kind, skillName, workspacePath)
	if err != nil {
		return "", err
	}
	prompt, err := e.renderer.Render(prompts.AutoFillTemplate, data)
	if err != nil {
		return "", err
	}
	return e.runner.Start(ctx, agent.Request{
		Prompt:           prompt,
		WorkingDirectory: workspacePath,
		Label:            LabelAutoFill,
		SkillName:        skillName,
		StepIndex:        ReviewStep(kind),
	})
}

// ReasoningLauncher returns a launcher that runs reasoning turns of
// skillName, resuming the agent's session when one exists.
func (e *Engine) ReasoningLauncher(skillName, workspacePath string) reasoning.Launcher {
	return reasoning.LauncherFunc(func(ctx context.Context, prompt, sessionID string) (string, error) {
		return e.runner.Start(ctx, agent.Request{
			Prompt:           prompt,
			WorkingDirectory: workspacePath,
			SessionID:        sessionID,
			Label:            LabelReasoning,
			SkillName:        skillName,
			StepIndex:        StepConfirmDecisions,
		})
	})
}

// Follow waits for runID and hands its result to session.
func (e *Engine) Follow(ctx context.Context, session *reasoning.Session, runID string) (reasoning.State, error) {
	run, err := e.runner.Wait(ctx, runID)
	if err != nil {
		return session.State(), err
	}
	session.HandleRunResult(ctx, run)
	return session.State(), nil
}

// Wait blocks until runID finishes.
func (e *Engine) Wait(ctx context.Context, runID string) (agenttypes.AgentRun, error) {
	return e.runner.Wait(ctx, runID)
}

func validateSkillName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.Errorf("invalid skill name %q", name)
	}
	return nil
}
