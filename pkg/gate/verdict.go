// Package gate decides which confirmation dialog to show between workflow
// steps, given the evaluator's per-question verdicts.
package gate

// QuestionVerdict is the evaluator's judgement of one answer.
type QuestionVerdict string

const (
	VerdictClear           QuestionVerdict = "clear"
	VerdictNotAnswered     QuestionVerdict = "not_answered"
	VerdictVague           QuestionVerdict = "vague"
	VerdictContradictory   QuestionVerdict = "contradictory"
	VerdictNeedsRefinement QuestionVerdict = "needs_refinement"
)

// GateVerdict is the overall sufficiency of a set of answers.
type GateVerdict string

const (
	GateSufficient   GateVerdict = "sufficient"
	GateMixed        GateVerdict = "mixed"
	GateInsufficient GateVerdict = "insufficient"
)

// Valid reports whether v is a known gate verdict.
func (v GateVerdict) Valid() bool {
	return v == GateSufficient || v == GateMixed || v == GateInsufficient
}

// QuestionEvaluation is one entry of the evaluator's report.
type QuestionEvaluation struct {
	QuestionID  string          `json:"question_id" jsonschema:"description=Identifier of the question such as Q3"`
	Verdict     QuestionVerdict `json:"verdict" jsonschema:"enum=clear,enum=not_answered,enum=vague,enum=contradictory,enum=needs_refinement"`
	Reason      string          `json:"reason,omitempty" jsonschema:"description=Short justification of the verdict"`
	Contradicts []string        `json:"contradicts,omitempty" jsonschema:"description=Ids of the questions this answer conflicts with"`
}

// Buckets groups question ids by verdict. Unknown verdicts are counted as
// vague.
type Buckets struct {
	Clear           []string `json:"clear"`
	NotAnswered     []string `json:"not_answered"`
	Vague           []string `json:"vague"`
	Contradictory   []string `json:"contradictory"`
	NeedsRefinement []string `json:"needs_refinement"`
}

// Partition sorts evaluations into buckets, preserving input order.
func Partition(evals []QuestionEvaluation) Buckets {
	var b Buckets
	for _, e := range evals {
		switch e.Verdict {
		case VerdictClear:
			b.Clear = append(b.Clear, e.QuestionID)
		case VerdictNotAnswered:
			b.NotAnswered = append(b.NotAnswered, e.QuestionID)
		case VerdictContradictory:
			b.Contradictory = append(b.Contradictory, e.QuestionID)
		case VerdictNeedsRefinement:
			b.NeedsRefinement = append(b.NeedsRefinement, e.QuestionID)
		default:
			b.Vague = append(b.Vague, e.QuestionID)
		}
	}
	return b
}

// Total is the number of evaluated questions.
func (b Buckets) Total() int {
	return len(b.Clear) + b.NonClear()
}

// NonClear is the number of questions with any verdict other than clear.
func (b Buckets) NonClear() int {
	return len(b.NotAnswered) + len(b.Vague) + len(b.Contradictory) + len(b.NeedsRefinement)
}

// RefinementOnly reports whether the only gaps are answers that need
// refinement.
func (b Buckets) RefinementOnly() bool {
	return len(b.NotAnswered) == 0 && len(b.Vague) == 0 && len(b.Contradictory) == 0 && len(b.NeedsRefinement) > 0
}
