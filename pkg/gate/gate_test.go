package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evals(verdicts ...QuestionVerdict) []QuestionEvaluation {
	out := make([]QuestionEvaluation, len(verdicts))
	for i, v := range verdicts {
		out[i] = QuestionEvaluation{QuestionID: fmt.Sprintf("Q%d", i+1), Verdict: v}
	}
	return out
}

func repeat(v QuestionVerdict, n int) []QuestionVerdict {
	out := make([]QuestionVerdict, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestPartition(t *testing.T) {
	b := Partition(evals(VerdictClear, VerdictVague, VerdictContradictory, VerdictNotAnswered, VerdictNeedsRefinement, "weird", VerdictClear))
	assert.Equal(t, []string{"Q1", "Q7"}, b.Clear)
	assert.Equal(t, []string{"Q2", "Q6"}, b.Vague)
	assert.Equal(t, []string{"Q3"}, b.Contradictory)
	assert.Equal(t, []string{"Q4"}, b.NotAnswered)
	assert.Equal(t, []string{"Q5"}, b.NeedsRefinement)
	assert.Equal(t, 7, b.Total())
	assert.Equal(t, 5, b.NonClear())
	assert.False(t, b.RefinementOnly())

	assert.True(t, Partition(evals(VerdictClear, VerdictNeedsRefinement)).RefinementOnly())
	assert.False(t, Partition(evals(VerdictClear)).RefinementOnly())
}

func TestDecideMixedScenario(t *testing.T) {
	verdicts := append(repeat(VerdictClear, 5), VerdictNotAnswered)
	d := Decide(KindClarifications, Report{Verdict: GateMixed, PerQuestion: evals(verdicts...)})

	assert.Equal(t, GateMixed, d.Verdict)
	assert.Equal(t, DialogMixed, d.Dialog)
	assert.False(t, d.Dialog.Blocking())
	assert.True(t, d.Allows(ActionAutoFill))
	assert.True(t, d.Allows(ActionLetMeAnswer))
	assert.Contains(t, d.Message, "Q6")
}

func TestDecideContradictoryAlwaysBlocks(t *testing.T) {
	cases := map[string][]QuestionVerdict{
		"alone":           {VerdictContradictory},
		"with clear":      append(repeat(VerdictClear, 9), VerdictContradictory),
		"with everything": {VerdictNotAnswered, VerdictVague, VerdictNeedsRefinement, VerdictContradictory},
	}
	for name, verdicts := range cases {
		for _, gv := range []GateVerdict{GateSufficient, GateMixed, GateInsufficient, ""} {
			t.Run(fmt.Sprintf("%s/%s", name, gv), func(t *testing.T) {
				d := Decide(KindRefinements, Report{Verdict: gv, PerQuestion: evals(verdicts...)})
				assert.Equal(t, DialogContradictory, d.Dialog)
				assert.True(t, d.Dialog.Blocking())
				assert.Equal(t, []Action{ActionLetMeAnswer}, d.Actions)
				assert.NotEqual(t, GateSufficient, d.Verdict)
			})
		}
	}
}

func TestDecideAllClearIsSufficient(t *testing.T) {
	for _, gv := range []GateVerdict{GateSufficient, GateMixed, GateInsufficient, ""} {
		d := Decide(KindClarifications, Report{Verdict: gv, PerQuestion: evals(repeat(VerdictClear, 4)...)})
		assert.Equal(t, GateSufficient, d.Verdict, gv)
		assert.Equal(t, DialogSufficient, d.Dialog)
		assert.Equal(t, []Action{ActionSkip, ActionRunAnyway}, d.Actions)
	}

	empty := Decide(KindClarifications, Report{})
	assert.Equal(t, GateSufficient, empty.Verdict)
}

func TestDecideInsufficientAndRefinementOnly(t *testing.T) {
	d := Decide(KindClarifications, Report{Verdict: GateInsufficient, PerQuestion: evals(VerdictNotAnswered, VerdictNotAnswered, VerdictClear)})
	assert.Equal(t, DialogInsufficient, d.Dialog)
	assert.Equal(t, []Action{ActionAutoFill, ActionLetMeAnswer}, d.Actions)
	assert.False(t, d.Allows(ActionSkip))

	d = Decide(KindRefinements, Report{Verdict: GateMixed, PerQuestion: evals(VerdictClear, VerdictNeedsRefinement)})
	assert.Equal(t, GateMixed, d.Verdict)
	assert.Equal(t, DialogRefinementOnly, d.Dialog)
	assert.Equal(t, []Action{ActionAutoFill, ActionLetMeAnswer, ActionRunAnyway}, d.Actions)
}

func TestDecideNeverGuessesInsufficient(t *testing.T) {
	d := Decide(KindClarifications, Report{PerQuestion: evals(repeat(VerdictNotAnswered, 10)...)})
	assert.Equal(t, GateMixed, d.Verdict)

	d = Decide(KindClarifications, Report{Verdict: GateSufficient, PerQuestion: evals(VerdictClear, VerdictVague)})
	assert.Equal(t, GateMixed, d.Verdict, "sufficient is not accepted while gaps remain")
}

func TestGateChoose(t *testing.T) {
	sufficient := Decide(KindRefinements, Report{PerQuestion: evals(VerdictClear)})

	g := New(sufficient)
	_, ok := g.Chosen()
	assert.False(t, ok, "nothing is chosen until the user acts")

	out, err := g.Choose(ActionSkip)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Action: ActionSkip, Destination: DestinationDecisions}, out)
	chosen, ok := g.Chosen()
	assert.True(t, ok)
	assert.Equal(t, out, chosen)

	_, err = g.Choose(ActionRunAnyway)
	assert.Error(t, err, "a gate resolves once")

	blocking := New(Decide(KindClarifications, Report{PerQuestion: evals(VerdictContradictory)}))
	_, err = blocking.Choose(ActionAutoFill)
	assert.ErrorIs(t, err, ErrActionNotOffered)
	out, err = blocking.Choose(ActionLetMeAnswer)
	require.NoError(t, err)
	assert.Equal(t, DestinationManual, out.Destination)

	mixed := New(Decide(KindClarifications, Report{PerQuestion: evals(VerdictClear, VerdictVague)}))
	out, err = mixed.Choose(ActionAutoFill)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Action: ActionAutoFill, Destination: DestinationNext, AutoFill: true}, out)
}

func TestKind(t *testing.T) {
	assert.Equal(t, DestinationResearch, KindClarifications.SkipDestination())
	assert.Equal(t, DestinationDecisions, KindRefinements.SkipDestination())

	k, err := ParseKind(" Refinements ")
	require.NoError(t, err)
	assert.Equal(t, KindRefinements, k)
	_, err = ParseKind("other")
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	data := []byte(`{
		"verdict": "mixed",
		"per_question": [
			{"question_id": "Q1", "verdict": "clear"},
			{"question_id": "Q2", "verdict": "contradictory", "contradicts": ["Q1"]}
		],
		"reasoning": "Q2 conflicts with Q1"
	}`)
	path := filepath.Join(t.TempDir(), EvaluationFile)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, GateMixed, r.Verdict)
	require.Len(t, r.PerQuestion, 2)
	assert.Equal(t, []string{"Q1"}, r.PerQuestion[1].Contradicts)

	_, err = ParseReport([]byte("{"))
	assert.Error(t, err)
	_, err = LoadReport(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestReportSchema(t *testing.T) {
	raw, err := ReportSchemaJSON()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "verdict")
	assert.Contains(t, props, "per_question")
	assert.Contains(t, raw, "needs_refinement")
}
