package agent

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jingkaihe/skillbuilder/pkg/runs"
	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

// streamLine is one line of the agent's stream-json output.
type streamLine struct {
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype"`
	SessionID string         `json:"session_id"`
	Model     string         `json:"model"`
	Message   *streamMessage `json:"message"`
	Result    string         `json:"result"`
	IsError   bool           `json:"is_error"`
	CostUSD   float64        `json:"total_cost_usd"`
	NumTurns  int            `json:"num_turns"`
	Usage     *streamUsage   `json:"usage"`
}

type streamMessage struct {
	Role    string         `json:"role"`
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type streamUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// outcome is what the stream said about how the run ended.
type outcome struct {
	sawResult bool
	isError   bool
	errText   string
}

// translate turns one stream line into registry actions and updates out
// when the line is the final result. Lines that are not JSON or carry an
// unknown type produce no actions.
func translate(runID string, raw []byte, now time.Time, out *outcome) []runs.Action {
	var line streamLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil
	}

	switch line.Type {
	case "system":
		if line.Subtype != "init" {
			return nil
		}
		return []runs.Action{
			runs.SetSession{ID: runID, SessionID: line.SessionID, Model: line.Model},
			runs.Append{ID: runID, Event: agenttypes.RunEvent{Kind: agenttypes.EventInit, Role: "system", Content: line.Model, Timestamp: now}},
		}

	case "assistant":
		if line.Message == nil {
			return nil
		}
		var actions []runs.Action
		for _, block := range line.Message.Content {
			switch block.Type {
			case "text":
				actions = append(actions, runs.Append{ID: runID, Event: agenttypes.RunEvent{
					Kind: agenttypes.EventText, Role: "assistant", Content: block.Text, Timestamp: now,
				}})
			case "tool_use":
				actions = append(actions, runs.Append{ID: runID, Event: agenttypes.RunEvent{
					Kind: agenttypes.EventToolCall, Role: "assistant", ToolName: block.Name, ToolInput: string(block.Input), Timestamp: now,
				}})
			}
		}
		return actions

	case "result":
		out.sawResult = true
		out.isError = line.IsError || (line.Subtype != "" && line.Subtype != "success")
		if out.isError {
			out.errText = strings.TrimSpace(line.Result)
			if out.errText == "" {
				out.errText = "agent reported " + line.Subtype
			}
		}

		var actions []runs.Action
		if line.SessionID != "" {
			actions = append(actions, runs.SetSession{ID: runID, SessionID: line.SessionID})
		}
		u := agenttypes.TokenUsage{}
		if line.Usage != nil {
			u = agenttypes.TokenUsage{
				Input:      line.Usage.InputTokens,
				Output:     line.Usage.OutputTokens,
				CacheRead:  line.Usage.CacheReadInputTokens,
				CacheWrite: line.Usage.CacheCreationInputTokens,
			}
		}
		actions = append(actions, runs.Usage{ID: runID, Usage: u, Cost: line.CostUSD})
		return actions
	}
	return nil
}
