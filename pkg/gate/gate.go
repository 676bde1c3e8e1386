package gate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// ErrActionNotOffered is returned when the chosen action is not part of the
// dialog.
var ErrActionNotOffered = errors.New("action not offered by this gate")

// Kind identifies one of the two gates of the workflow.
type Kind string

const (
	// KindClarifications follows the review of the clarification answers.
	KindClarifications Kind = "clarifications"
	// KindRefinements follows the review of the refinement answers.
	KindRefinements Kind = "refinements"
)

// ParseKind validates a gate kind given on the command line or the wire.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindClarifications, KindRefinements:
		return k, nil
	}
	return "", errors.Errorf("unknown gate kind %q", s)
}

// Destination is where the workflow goes after a gate action.
type Destination string

const (
	DestinationResearch  Destination = "research"
	DestinationDecisions Destination = "decisions"
	DestinationNext      Destination = "next"
	DestinationManual    Destination = "manual"
)

// SkipDestination is where skip leads for this gate.
func (k Kind) SkipDestination() Destination {
	if k == KindRefinements {
		return DestinationDecisions
	}
	return DestinationResearch
}

// Action is a user choice in a gate dialog.
type Action string

const (
	ActionSkip        Action = "skip"
	ActionRunAnyway   Action = "run_anyway"
	ActionAutoFill    Action = "auto_fill"
	ActionLetMeAnswer Action = "let_me_answer"
)

// Dialog is the confirmation dialog to present.
type Dialog string

const (
	DialogContradictory  Dialog = "contradictory"
	DialogSufficient     Dialog = "sufficient"
	DialogMixed          Dialog = "mixed"
	DialogRefinementOnly Dialog = "refinement_only"
	DialogInsufficient   Dialog = "insufficient"
)

// Blocking reports whether the dialog only allows returning to manual
// editing.
func (d Dialog) Blocking() bool {
	return d == DialogContradictory
}

// Decision is the dialog to show for one gate instance.
type Decision struct {
	Kind    Kind        `json:"kind"`
	Verdict GateVerdict `json:"verdict"`
	Dialog  Dialog      `json:"dialog"`
	Actions []Action    `json:"actions"`
	Buckets Buckets     `json:"buckets"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
}

// Allows reports whether action is offered.
func (d Decision) Allows(action Action) bool {
	return slices.Contains(d.Actions, action)
}

// Decide picks the verdict and dialog for report. Contradictions always
// block. All-clear answers are always sufficient. Otherwise the evaluator's
// verdict is trusted, except that it can never claim sufficient while
// gaps remain.
func Decide(kind Kind, report Report) Decision {
	b := Partition(report.PerQuestion)
	d := Decision{Kind: kind, Buckets: b}

	switch {
	case len(b.Contradictory) > 0:
		d.Verdict = report.Verdict
		if !d.Verdict.Valid() || d.Verdict == GateSufficient {
			d.Verdict = GateMixed
		}
		d.Dialog = DialogContradictory
		d.Actions = []Action{ActionLetMeAnswer}
	case b.NonClear() == 0:
		d.Verdict = GateSufficient
		d.Dialog = DialogSufficient
		d.Actions = []Action{ActionSkip, ActionRunAnyway}
	case report.Verdict == GateInsufficient:
		d.Verdict = GateInsufficient
		d.Dialog = DialogInsufficient
		d.Actions = []Action{ActionAutoFill, ActionLetMeAnswer}
	default:
		d.Verdict = GateMixed
		d.Dialog = DialogMixed
		if b.RefinementOnly() {
			d.Dialog = DialogRefinementOnly
		}
		d.Actions = []Action{ActionAutoFill, ActionLetMeAnswer, ActionRunAnyway}
	}

	d.Title, d.Message = copyFor(kind, d.Dialog, b)
	return d
}

func noun(kind Kind) string {
	if kind == KindRefinements {
		return "refinement"
	}
	return "clarification"
}

func copyFor(kind Kind, dialog Dialog, b Buckets) (string, string) {
	n := noun(kind)
	switch dialog {
	case DialogContradictory:
		return "Contradictory answers",
			fmt.Sprintf("%d %s answer(s) contradict each other (%s). Resolve them before continuing.",
				len(b.Contradictory), n, strings.Join(b.Contradictory, ", "))
	case DialogSufficient:
		return "Answers look complete",
			fmt.Sprintf("All %d %s answers are clear. Skip ahead to %s, or run the next step anyway.",
				b.Total(), n, kind.SkipDestination())
	case DialogRefinementOnly:
		return "Some answers need refinement",
			fmt.Sprintf("%d of %d %s answers need refinement (%s). The agent can refine them, or you can edit them yourself.",
				len(b.NeedsRefinement), b.Total(), n, strings.Join(b.NeedsRefinement, ", "))
	case DialogInsufficient:
		return "Not enough answers",
			fmt.Sprintf("Only %d of %d %s questions have clear answers. Let the agent fill in recommendations, or answer them yourself.",
				len(b.Clear), b.Total(), n)
	default:
		gaps := append(append(append([]string{}, b.NotAnswered...), b.Vague...), b.NeedsRefinement...)
		return "Some answers are incomplete",
			fmt.Sprintf("%d of %d %s answers are clear; %s need attention. Auto-fill the gaps, answer them yourself, or run anyway.",
				len(b.Clear), b.Total(), n, strings.Join(gaps, ", "))
	}
}

// Outcome is the result of a user choice.
type Outcome struct {
	Action      Action
	Destination Destination
	// AutoFill asks the agent to fill unanswered questions before continuing.
	AutoFill bool
}

// Gate is one presented dialog. It never advances without Choose.
type Gate struct {
	decision Decision
	chosen   *Outcome
}

// New presents decision.
func New(decision Decision) *Gate {
	return &Gate{decision: decision}
}

// Decision returns the presented decision.
func (g *Gate) Decision() Decision {
	return g.decision
}

// Chosen returns the outcome once an action was chosen.
func (g *Gate) Chosen() (Outcome, bool) {
	if g.chosen == nil {
		return Outcome{}, false
	}
	return *g.chosen, true
}

// Choose applies action. Each gate instance accepts exactly one choice.
func (g *Gate) Choose(action Action) (Outcome, error) {
	if g.chosen != nil {
		return Outcome{}, errors.Errorf("gate already resolved with %s", g.chosen.Action)
	}
	if !g.decision.Allows(action) {
		return Outcome{}, errors.Wrapf(ErrActionNotOffered, "%s in %s dialog", action, g.decision.Dialog)
	}

	out := Outcome{Action: action}
	switch action {
	case ActionSkip:
		out.Destination = g.decision.Kind.SkipDestination()
	case ActionRunAnyway:
		out.Destination = DestinationNext
	case ActionAutoFill:
		out.Destination = DestinationNext
		out.AutoFill = true
	case ActionLetMeAnswer:
		out.Destination = DestinationManual
	}
	g.chosen = &out
	return out, nil
}
