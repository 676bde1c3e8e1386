// Package agent holds the data model shared by the run registry, the agent
// runner and the reasoning session: runs, their streamed events and usage.
package agent

import (
	"strings"
	"time"
)

// RunStatus is the lifecycle state of an external agent run.
type RunStatus string

const (
	RunStatusInitializing RunStatus = "initializing"
	RunStatusRunning      RunStatus = "running"
	RunStatusCompleted    RunStatus = "completed"
	RunStatusError        RunStatus = "error"
)

// IsTerminal reports whether no further mutation is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusError
}

// EventKind classifies a streamed run event.
type EventKind string

const (
	EventInit     EventKind = "init"
	EventText     EventKind = "text"
	EventToolCall EventKind = "tool_call"
	EventError    EventKind = "error"
	EventResult   EventKind = "result"
)

// RunEvent is one message delivered by the agent process, in delivery order.
type RunEvent struct {
	Kind      EventKind `json:"kind"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	ToolInput string    `json:"tool_input,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenUsage is the cumulative token accounting reported for a run.
type TokenUsage struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cache_read"`
	CacheWrite int `json:"cache_write"`
}

// Total returns the sum of all token counters.
func (u TokenUsage) Total() int {
	return u.Input + u.Output + u.CacheRead + u.CacheWrite
}

// Add returns the element-wise sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		Input:      u.Input + o.Input,
		Output:     u.Output + o.Output,
		CacheRead:  u.CacheRead + o.CacheRead,
		CacheWrite: u.CacheWrite + o.CacheWrite,
	}
}

// AgentRun is the registry's record of a single agent process.
type AgentRun struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	Messages  []RunEvent `json:"messages"`
	SessionID string     `json:"session_id,omitempty"`
	Model     string     `json:"model,omitempty"`
	Usage     TokenUsage `json:"usage"`
	TotalCost float64    `json:"total_cost"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	NumTurns  int        `json:"num_turns"`
	Error     string     `json:"error,omitempty"`

	Label     string `json:"label,omitempty"`
	SkillName string `json:"skill_name,omitempty"`
	StepIndex int    `json:"step_index"`
}

// Clone returns a deep copy safe to hand to readers.
func (r AgentRun) Clone() AgentRun {
	out := r
	out.Messages = append([]RunEvent(nil), r.Messages...)
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	return out
}

// Duration is the wall time of the run so far.
func (r AgentRun) Duration(now time.Time) time.Duration {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return now.Sub(r.StartTime)
}

// CountTurns returns the number of assistant text events.
func CountTurns(events []RunEvent) int {
	n := 0
	for _, e := range events {
		if e.Kind == EventText && e.Role == "assistant" {
			n++
		}
	}
	return n
}

// AssistantText concatenates the assistant text output of a run.
func AssistantText(r AgentRun) string {
	var parts []string
	for _, e := range r.Messages {
		if e.Kind == EventText && e.Role == "assistant" && strings.TrimSpace(e.Content) != "" {
			parts = append(parts, e.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ErrorText returns the most useful error description of a failed run.
func ErrorText(r AgentRun) string {
	if r.Error != "" {
		return r.Error
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Kind == EventError {
			return r.Messages[i].Content
		}
	}
	return "agent run failed"
}
