//go:build unix

package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbuilder/pkg/runs"
	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

// fakeAgent writes a shell script that ignores its flags, echoes the prompt
// from stdin into a file and prints body to stdout.
func fakeAgent(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	promptFile := filepath.Join(dir, "prompt.txt")
	script := filepath.Join(dir, "agent.sh")
	content := "#!/bin/sh\necho \"$@\" > " + filepath.Join(dir, "args.txt") + "\ncat > " + promptFile + "\n" + body + "\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script, dir
}

func waitRun(t *testing.T, r *Runner, id string) agenttypes.AgentRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := r.Wait(ctx, id)
	require.NoError(t, err)
	return run
}

func TestRunnerCompletedRun(t *testing.T) {
	body := `cat <<'JSON'
{"type":"system","subtype":"init","session_id":"sess-42","model":"claude-sonnet"}
not json at all
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Reviewing answers."},{"type":"tool_use","name":"Read","input":{"path":"clarifications.md"}}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"## Follow-up Questions (Round 2)"}]}}
{"type":"result","subtype":"success","session_id":"sess-42","total_cost_usd":0.12,"num_turns":3,"usage":{"input_tokens":1000,"output_tokens":200,"cache_read_input_tokens":50}}
JSON`
	script, dir := fakeAgent(t, body)

	r := NewRunner(Config{Command: script, Model: "sonnet", MaxTurns: 10, AllowedTools: []string{"Read"}}, runs.NewRegistry())
	id, err := r.Start(context.Background(), Request{
		Prompt:           "Reason about the answers",
		WorkingDirectory: dir,
		SessionID:        "sess-41",
		Label:            "reasoning",
		SkillName:        "crm",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run := waitRun(t, r, id)
	assert.Equal(t, agenttypes.RunStatusCompleted, run.Status)
	assert.Equal(t, "sess-42", run.SessionID)
	assert.Equal(t, "claude-sonnet", run.Model)
	assert.Equal(t, 2, run.NumTurns)
	assert.Equal(t, agenttypes.TokenUsage{Input: 1000, Output: 200, CacheRead: 50}, run.Usage)
	assert.InDelta(t, 0.12, run.TotalCost, 1e-9)
	assert.Contains(t, agenttypes.AssistantText(run), "Follow-up Questions")

	prompt, err := os.ReadFile(filepath.Join(dir, "prompt.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Reason about the answers", string(prompt))

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--model sonnet --max-turns 10 --allowedTools Read --resume sess-41")
}

func TestRunnerErrorResult(t *testing.T) {
	script, _ := fakeAgent(t, `echo '{"type":"result","subtype":"error_max_turns","is_error":true,"result":""}'`)

	r := NewRunner(Config{Command: script}, runs.NewRegistry())
	id, err := r.Start(context.Background(), Request{Prompt: "go"})
	require.NoError(t, err)

	run := waitRun(t, r, id)
	assert.Equal(t, agenttypes.RunStatusError, run.Status)
	assert.Equal(t, "agent reported error_max_turns", run.Error)
}

func TestRunnerExitWithoutResult(t *testing.T) {
	script, _ := fakeAgent(t, `echo "credit balance too low" >&2; exit 3`)

	r := NewRunner(Config{Command: script}, runs.NewRegistry())
	id, err := r.Start(context.Background(), Request{Prompt: "go"})
	require.NoError(t, err)

	run := waitRun(t, r, id)
	assert.Equal(t, agenttypes.RunStatusError, run.Status)
	assert.Equal(t, "credit balance too low", run.Error)
}

func TestRunnerCancel(t *testing.T) {
	script, _ := fakeAgent(t, `sleep 30`)

	r := NewRunner(Config{Command: script}, runs.NewRegistry())
	id, err := r.Start(context.Background(), Request{Prompt: "go"})
	require.NoError(t, err)
	assert.True(t, r.Registry().HasActive())

	assert.True(t, r.Cancel(id))
	run := waitRun(t, r, id)
	assert.Equal(t, agenttypes.RunStatusError, run.Status)
	assert.Equal(t, CancelledMessage, run.Error)

	assert.False(t, r.Cancel(id))
	assert.False(t, r.Registry().HasActive())
}

func TestRunnerOversizedLineFinishes(t *testing.T) {
	script, _ := fakeAgent(t, `head -c 262144 /dev/zero | tr '\000' a; echo
echo '{"type":"result","subtype":"success","num_turns":1}'`)

	r := NewRunner(Config{Command: script}, runs.NewRegistry())
	r.maxLine = 1024
	id, err := r.Start(context.Background(), Request{Prompt: "go"})
	require.NoError(t, err)

	run := waitRun(t, r, id)
	assert.Equal(t, agenttypes.RunStatusError, run.Status)
	assert.Contains(t, run.Error, "failed to read agent output")
	assert.False(t, r.Registry().HasActive())
}

func TestRunnerStartFailure(t *testing.T) {
	r := NewRunner(Config{Command: filepath.Join(t.TempDir(), "missing-agent")}, runs.NewRegistry())

	id, err := r.Start(context.Background(), Request{Prompt: "go"})
	require.Error(t, err)
	require.NotEmpty(t, id)

	run, getErr := r.Registry().Get(id)
	require.NoError(t, getErr)
	assert.Equal(t, agenttypes.RunStatusError, run.Status)

	_, err = r.Start(context.Background(), Request{Prompt: "  "})
	assert.Error(t, err)
}

func TestTranslate(t *testing.T) {
	now := time.Now()

	t.Run("unknown type", func(t *testing.T) {
		var out outcome
		assert.Nil(t, translate("r", []byte(`{"type":"user"}`), now, &out))
		assert.False(t, out.sawResult)
	})

	t.Run("success result", func(t *testing.T) {
		var out outcome
		actions := translate("r", []byte(`{"type":"result","subtype":"success","total_cost_usd":1.5}`), now, &out)
		require.Len(t, actions, 1)
		assert.Equal(t, runs.Usage{ID: "r", Cost: 1.5}, actions[0])
		assert.True(t, out.sawResult)
		assert.False(t, out.isError)
	})

	t.Run("error result keeps text", func(t *testing.T) {
		var out outcome
		translate("r", []byte(`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"tool crashed"}`), now, &out)
		assert.True(t, out.isError)
		assert.Equal(t, "tool crashed", out.errText)
	})
}
