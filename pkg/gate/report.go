package gate

import (
	"encoding/json"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// EvaluationFile is the evaluator's output inside a skill's context dir.
const EvaluationFile = "answer-evaluation.json"

// ErrEmptyEvaluation is returned when the evaluator assessed no questions.
var ErrEmptyEvaluation = errors.New("answer evaluation has no per-question verdicts")

// Report is the evaluator's output. Verdict is policy owned by the
// evaluator and may be empty.
type Report struct {
	Verdict     GateVerdict          `json:"verdict" jsonschema:"enum=sufficient,enum=mixed,enum=insufficient"`
	PerQuestion []QuestionEvaluation `json:"per_question"`
	Reasoning   string               `json:"reasoning,omitempty"`
}

// ParseReport decodes the evaluator's JSON output.
func ParseReport(data []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, errors.Wrap(err, "failed to parse answer evaluation")
	}
	return r, nil
}

// LoadReport reads and decodes the evaluation at path.
func LoadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, errors.Wrap(err, "failed to read answer evaluation")
	}
	return ParseReport(data)
}

// ReportSchema returns the JSON schema the evaluator must follow.
func ReportSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(&Report{})
}

// ReportSchemaJSON renders ReportSchema for prompts.
func ReportSchemaJSON() (string, error) {
	data, err := json.MarshalIndent(ReportSchema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal report schema")
	}
	return string(data), nil
}
