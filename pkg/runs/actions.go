package runs

import (
	"time"

	"github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

// Action is a mutation request for a single run. Actions are applied by
// Registry.Dispatch and never by mutating a run directly.
type Action interface {
	RunID() string
}

// Start registers a new run in the initializing state.
type Start struct {
	ID        string
	Model     string
	Label     string
	SkillName string
	StepIndex int
}

// Append adds a streamed event. The first event moves the run to running.
type Append struct {
	ID    string
	Event agent.RunEvent
}

// SetSession records the resumption token reported by the agent.
type SetSession struct {
	ID        string
	SessionID string
	Model     string
}

// Usage replaces the usage counters with the agent's cumulative report.
type Usage struct {
	ID    string
	Usage agent.TokenUsage
	Cost  float64
}

// Finish moves the run to a terminal status.
type Finish struct {
	ID     string
	Status agent.RunStatus
	Error  string
}

func (a Start) RunID() string      { return a.ID }
func (a Append) RunID() string     { return a.ID }
func (a SetSession) RunID() string { return a.ID }
func (a Usage) RunID() string      { return a.ID }
func (a Finish) RunID() string     { return a.ID }

// reduce applies a to run and returns the next value. It reports false when
// the action was a no-op, which is always the case once run is terminal.
func reduce(run agent.AgentRun, a Action, now time.Time) (agent.AgentRun, bool) {
	if run.Status.IsTerminal() {
		return run, false
	}

	switch act := a.(type) {
	case Append:
		if act.Event.Timestamp.IsZero() {
			act.Event.Timestamp = now
		}
		run.Messages = append(run.Messages, act.Event)
		run.NumTurns = agent.CountTurns(run.Messages)
		if run.Status == agent.RunStatusInitializing {
			run.Status = agent.RunStatusRunning
		}
	case SetSession:
		if act.SessionID != "" {
			run.SessionID = act.SessionID
		}
		if act.Model != "" {
			run.Model = act.Model
		}
	case Usage:
		run.Usage = act.Usage
		run.TotalCost = act.Cost
	case Finish:
		if !act.Status.IsTerminal() {
			return run, false
		}
		run.Status = act.Status
		run.Error = act.Error
		end := now
		run.EndTime = &end
		if act.Status == agent.RunStatusError && act.Error != "" {
			run.Messages = append(run.Messages, agent.RunEvent{
				Kind:      agent.EventError,
				Content:   act.Error,
				Timestamp: now,
			})
		}
	default:
		return run, false
	}
	return run, true
}
