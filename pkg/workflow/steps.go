// Package workflow defines the skill authoring steps and runs them through
// the agent runner.
package workflow

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbuilder/pkg/gate"
)

// ContextDir is the directory inside a skill workspace holding step
// artifacts.
const ContextDir = "context"

// Step indices.
const (
	StepResearch = iota
	StepReview
	StepDetailedResearch
	StepReviewRefinements
	StepConfirmDecisions
	StepGenerateSkill
)

// Step is one stage of the workflow.
type Step struct {
	Index int
	Name  string
	// Human steps are edited by the user and never run an agent.
	Human    bool
	Template string
	// Outputs are relative to the skill workspace directory.
	Outputs []string
}

// Steps is the workflow in order.
var Steps = []Step{
	{
		Index:    StepResearch,
		Name:     "Research",
		Template: "research.tmpl",
		Outputs:  []string{"context/research-plan.md", "context/clarifications.md"},
	},
	{
		Index:   StepReview,
		Name:    "Review",
		Human:   true,
		Outputs: []string{"context/clarifications.md"},
	},
	{
		Index:    StepDetailedResearch,
		Name:     "Detailed Research",
		Template: "detailed_research.tmpl",
		Outputs:  []string{"context/clarifications-detailed.md"},
	},
	{
		Index:   StepReviewRefinements,
		Name:    "Review Refinements",
		Human:   true,
		Outputs: []string{"context/clarifications-detailed.md"},
	},
	{
		Index:    StepConfirmDecisions,
		Name:     "Confirm Decisions",
		Template: "confirm_decisions.tmpl",
		Outputs:  []string{"context/decisions.md"},
	},
	{
		Index:    StepGenerateSkill,
		Name:     "Generate Skill",
		Template: "generate_skill.tmpl",
		Outputs:  []string{"SKILL.md"},
	},
}

// StepAt returns the step with index i.
func StepAt(i int) (Step, error) {
	if i < 0 || i >= len(Steps) {
		return Step{}, errors.Errorf("unknown workflow step %d", i)
	}
	return Steps[i], nil
}

// GateFor returns the gate that follows step i, if any.
func GateFor(i int) (gate.Kind, bool) {
	switch i {
	case StepReview:
		return gate.KindClarifications, true
	case StepReviewRefinements:
		return gate.KindRefinements, true
	}
	return "", false
}

// GateSource is the answers file a gate evaluates, relative to the skill
// workspace directory.
func GateSource(kind gate.Kind) string {
	if kind == gate.KindRefinements {
		return "context/clarifications-detailed.md"
	}
	return "context/clarifications.md"
}

// ReviewStep is the human step a gate returns to for manual answers.
func ReviewStep(kind gate.Kind) int {
	if kind == gate.KindRefinements {
		return StepReviewRefinements
	}
	return StepReview
}

// NextStep maps a gate outcome to the step the workflow continues with.
func NextStep(kind gate.Kind, out gate.Outcome) int {
	switch out.Destination {
	case gate.DestinationResearch:
		return StepDetailedResearch
	case gate.DestinationDecisions:
		return StepConfirmDecisions
	case gate.DestinationManual:
		return ReviewStep(kind)
	}
	return ReviewStep(kind) + 1
}

// SkillDir is the workspace directory of skillName.
func SkillDir(workspace, skillName string) string {
	return filepath.Join(workspace, skillName)
}

// SkillContextDir is the artifact directory of skillName.
func SkillContextDir(workspace, skillName string) string {
	return filepath.Join(workspace, skillName, ContextDir)
}
