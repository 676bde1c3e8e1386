// Package tui renders interactive terminal dialogs with bubbletea.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbuilder/pkg/gate"
)

type gateKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Choose key.Binding
	Cancel key.Binding
}

var gateKeys = gateKeyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Choose: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "choose")),
	Cancel: key.NewBinding(key.WithKeys("esc", "q", "ctrl+c"), key.WithHelp("esc/q", "cancel")),
}

// ActionLabel returns the button text for action in the given dialog.
func ActionLabel(kind gate.Kind, action gate.Action) string {
	switch action {
	case gate.ActionSkip:
		if kind.SkipDestination() == gate.DestinationDecisions {
			return "Skip to decisions"
		}
		return "Skip detailed research"
	case gate.ActionRunAnyway:
		if kind == gate.KindRefinements {
			return "Continue anyway"
		}
		return "Run research anyway"
	case gate.ActionAutoFill:
		return "Auto-fill and continue"
	case gate.ActionLetMeAnswer:
		return "Let me answer"
	}
	return string(action)
}

// GateModel is the gate confirmation dialog. Cancelling never chooses an
// action, so the workflow stays where it is.
type GateModel struct {
	gate      *gate.Gate
	cursor    int
	outcome   *gate.Outcome
	cancelled bool
	err       error
	width     int

	titleStyle    lipgloss.Style
	messageStyle  lipgloss.Style
	selectedStyle lipgloss.Style
	normalStyle   lipgloss.Style
	helpStyle     lipgloss.Style
	errorStyle    lipgloss.Style
}

// NewGateModel creates a dialog for g.
func NewGateModel(g *gate.Gate) GateModel {
	return GateModel{
		gate:          g,
		width:         80,
		titleStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
		messageStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		selectedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
		normalStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		helpStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		errorStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Init implements tea.Model.
func (m GateModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m GateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		actions := m.gate.Decision().Actions
		switch {
		case key.Matches(msg, gateKeys.Cancel):
			m.cancelled = true
			return m, tea.Quit
		case key.Matches(msg, gateKeys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, gateKeys.Down):
			if m.cursor < len(actions)-1 {
				m.cursor++
			}
		case key.Matches(msg, gateKeys.Choose):
			if len(actions) == 0 {
				return m, nil
			}
			out, err := m.gate.Choose(actions[m.cursor])
			if err != nil {
				m.err = err
				return m, nil
			}
			m.outcome = &out
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m GateModel) View() string {
	d := m.gate.Decision()
	var b strings.Builder

	b.WriteString(m.titleStyle.Render(d.Title))
	b.WriteString("\n\n")
	b.WriteString(m.messageStyle.Width(max(m.width-2, 20)).Render(d.Message))
	b.WriteString("\n\n")

	for i, a := range d.Actions {
		label := ActionLabel(d.Kind, a)
		if i == m.cursor {
			b.WriteString(m.selectedStyle.Render("❯ " + label))
		} else {
			b.WriteString(m.normalStyle.Render("  " + label))
		}
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(m.errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.helpStyle.Render(fmt.Sprintf("%s • %s • %s",
		gateKeys.Up.Help().Key+"/"+gateKeys.Down.Help().Key+" move",
		gateKeys.Choose.Help().Key+" choose",
		gateKeys.Cancel.Help().Key+" cancel")))
	b.WriteString("\n")
	return b.String()
}

// Chosen returns the outcome when an action was chosen.
func (m GateModel) Chosen() (gate.Outcome, bool) {
	if m.outcome == nil {
		return gate.Outcome{}, false
	}
	return *m.outcome, true
}

// Cancelled reports whether the dialog was dismissed without a choice.
func (m GateModel) Cancelled() bool {
	return m.cancelled
}

// RunGateDialog shows the dialog and blocks until the user chooses or
// cancels. ok is false on cancel.
func RunGateDialog(ctx context.Context, g *gate.Gate, opts ...tea.ProgramOption) (gate.Outcome, bool, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(NewGateModel(g), opts...).Run()
	if err != nil {
		return gate.Outcome{}, false, errors.Wrap(err, "gate dialog failed")
	}
	m, ok := final.(GateModel)
	if !ok {
		return gate.Outcome{}, false, errors.New("unexpected dialog model")
	}
	out, chosen := m.Chosen()
	return out, chosen, nil
}
