package reasoning

import (
	"path/filepath"

	"github.com/jingkaihe/skillbuilder/pkg/prompts"
)

// InputKind tags the user input carried into the next reasoning turn.
type InputKind string

const (
	InputNone        InputKind = ""
	InputAnswers     InputKind = "answers"
	InputCorrections InputKind = "corrections"
	InputConfirm     InputKind = "confirm"
)

type promptData struct {
	SkillName  string
	ContextDir string
	Round      int
	NextRound  int
	InputKind  InputKind
	Input      string
	Transcript string
}

// BuildPrompt renders the reasoning agent prompt for the next turn of state.
// The transcript is only embedded when the agent cannot resume its own
// session.
func BuildPrompt(state State, workspace, skillName string, kind InputKind, input string) (string, error) {
	data := promptData{
		SkillName:  skillName,
		ContextDir: filepath.Join(workspace, skillName, "context"),
		Round:      state.Round,
		NextRound:  state.Round + 1,
		InputKind:  kind,
		Input:      input,
	}
	if state.SessionID == "" {
		data.Transcript = state.Transcript()
	}
	return prompts.Default().Render(prompts.ReasoningTemplate, data)
}
