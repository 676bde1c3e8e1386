package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbuilder/pkg/gate"
)

func mixedGate() *gate.Gate {
	return gate.New(gate.Decide(gate.KindClarifications, gate.Report{
		Verdict: gate.GateMixed,
		PerQuestion: []gate.QuestionEvaluation{
			{QuestionID: "Q1", Verdict: gate.VerdictClear},
			{QuestionID: "Q2", Verdict: gate.VerdictNotAnswered},
		},
	}))
}

func press(m tea.Model, keys ...tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		m, cmd = m.Update(k)
	}
	return m, cmd
}

var (
	keyUp    = tea.KeyMsg{Type: tea.KeyUp}
	keyDown  = tea.KeyMsg{Type: tea.KeyDown}
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyEsc   = tea.KeyMsg{Type: tea.KeyEsc}
	keyJ     = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}}
	keyK     = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}}
	keyQ     = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
)

func TestGateModelChoose(t *testing.T) {
	g := mixedGate()
	actions := g.Decision().Actions
	require.Equal(t, []gate.Action{gate.ActionAutoFill, gate.ActionLetMeAnswer, gate.ActionRunAnyway}, actions)

	m, cmd := press(NewGateModel(g), keyDown, keyJ, keyK, keyEnter)
	require.NotNil(t, cmd)
	gm := m.(GateModel)

	out, ok := gm.Chosen()
	require.True(t, ok)
	assert.Equal(t, gate.ActionLetMeAnswer, out.Action)
	assert.Equal(t, gate.DestinationManual, out.Destination)
	assert.False(t, gm.Cancelled())

	chosen, ok := g.Chosen()
	require.True(t, ok)
	assert.Equal(t, out, chosen)
}

func TestGateModelCursorBounds(t *testing.T) {
	m, _ := press(NewGateModel(mixedGate()), keyUp, keyUp, keyDown, keyDown, keyDown, keyDown, keyEnter)
	out, ok := m.(GateModel).Chosen()
	require.True(t, ok)
	assert.Equal(t, gate.ActionRunAnyway, out.Action)
	assert.Equal(t, gate.DestinationNext, out.Destination)
}

func TestGateModelCancelNeverAdvances(t *testing.T) {
	for _, k := range []tea.KeyMsg{keyEsc, keyQ} {
		t.Run(k.String(), func(t *testing.T) {
			g := mixedGate()
			m, cmd := press(NewGateModel(g), keyDown, k)
			require.NotNil(t, cmd)

			gm := m.(GateModel)
			assert.True(t, gm.Cancelled())
			_, ok := gm.Chosen()
			assert.False(t, ok)
			_, ok = g.Chosen()
			assert.False(t, ok)
		})
	}
}

func TestGateModelResolvedGate(t *testing.T) {
	g := mixedGate()
	_, err := g.Choose(gate.ActionRunAnyway)
	require.NoError(t, err)

	m, cmd := press(NewGateModel(g), keyEnter)
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "already resolved")
}

func TestGateModelView(t *testing.T) {
	g := gate.New(gate.Decide(gate.KindRefinements, gate.Report{
		Verdict:     gate.GateSufficient,
		PerQuestion: []gate.QuestionEvaluation{{QuestionID: "R1", Verdict: gate.VerdictClear}},
	}))

	view := NewGateModel(g).View()
	assert.Contains(t, view, g.Decision().Title)
	assert.Contains(t, view, "❯ Skip to decisions")
	assert.Contains(t, view, "Continue anyway")
	assert.Contains(t, view, "esc/q cancel")
}

func TestActionLabel(t *testing.T) {
	assert.Equal(t, "Skip detailed research", ActionLabel(gate.KindClarifications, gate.ActionSkip))
	assert.Equal(t, "Skip to decisions", ActionLabel(gate.KindRefinements, gate.ActionSkip))
	assert.Equal(t, "Run research anyway", ActionLabel(gate.KindClarifications, gate.ActionRunAnyway))
	assert.Equal(t, "Let me answer", ActionLabel(gate.KindRefinements, gate.ActionLetMeAnswer))
	assert.Equal(t, "mystery", ActionLabel(gate.KindRefinements, gate.Action("mystery")))
}
