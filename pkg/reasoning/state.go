package reasoning

import "strings"

// Phase is the position of a reasoning session in its state machine.
type Phase string

const (
	PhaseNotStarted   Phase = "not_started"
	PhaseAgentRunning Phase = "agent_running"
	PhaseFollowUp     Phase = "follow_up"
	PhaseGateCheck    Phase = "gate_check"
	PhaseSummary      Phase = "summary"
	PhaseCompleted    Phase = "completed"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseNotStarted, PhaseAgentRunning, PhaseFollowUp, PhaseGateCheck, PhaseSummary, PhaseCompleted:
		return true
	}
	return false
}

// Role identifies the author of a session message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one entry of the reasoning conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	AgentID string `json:"agentId,omitempty"`
}

// State is the persisted snapshot of a session.
type State struct {
	Messages  []Message `json:"messages"`
	SessionID string    `json:"sessionId,omitempty"`
	Phase     Phase     `json:"phase"`
	Round     int       `json:"round"`
}

// NewState returns the state of a session that has never run.
func NewState() State {
	return State{Messages: []Message{}, Phase: PhaseNotStarted, Round: 1}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Messages = append([]Message{}, s.Messages...)
	return out
}

// ForStorage returns the snapshot as it must be written. No process can
// still be running when the snapshot is read back, so agent_running is
// stored as summary.
func (s State) ForStorage() State {
	out := s.Clone()
	if out.Phase == PhaseAgentRunning {
		out.Phase = PhaseSummary
	}
	return out
}

// normalize repairs a loaded snapshot. It reports false when the snapshot
// is unusable and should be replaced by NewState.
func (s *State) normalize() bool {
	if !s.Phase.Valid() {
		return false
	}
	if s.Phase == PhaseAgentRunning {
		s.Phase = PhaseSummary
	}
	if s.Round < 1 {
		s.Round = 1
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	for _, m := range s.Messages {
		if m.Role != RoleUser && m.Role != RoleAgent {
			return false
		}
	}
	return true
}

// LastAgentMessage returns the content of the most recent agent message.
func (s State) LastAgentMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAgent {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Transcript renders the conversation as markdown, used in prompts and by
// the CLI.
func (s State) Transcript() string {
	var b strings.Builder
	for i, m := range s.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if m.Role == RoleUser {
			b.WriteString("### User\n\n")
		} else {
			b.WriteString("### Agent\n\n")
		}
		b.WriteString(strings.TrimSpace(m.Content))
	}
	return b.String()
}
