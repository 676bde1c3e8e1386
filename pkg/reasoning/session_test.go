package reasoning

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

type memoryStore struct {
	mu    sync.Mutex
	saved map[string][]State
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saved: map[string][]State{}}
}

func (m *memoryStore) Load(_ context.Context, skill string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.saved[skill]
	if len(history) == 0 {
		return NewState(), nil
	}
	s := history[len(history)-1].Clone()
	s.normalize()
	return s, nil
}

func (m *memoryStore) Save(_ context.Context, skill string, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[skill] = append(m.saved[skill], s.ForStorage())
	return nil
}

func (m *memoryStore) Delete(_ context.Context, skill string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, skill)
	return nil
}

func (m *memoryStore) last(skill string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.saved[skill]
	return h[len(h)-1]
}

type fakeLauncher struct {
	n        int
	err      error
	prompts  []string
	sessions []string
}

func (f *fakeLauncher) Launch(_ context.Context, prompt, sessionID string) (string, error) {
	f.n++
	f.prompts = append(f.prompts, prompt)
	f.sessions = append(f.sessions, sessionID)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("run-%d", f.n), nil
}

func completed(id, text string) agenttypes.AgentRun {
	return agenttypes.AgentRun{
		ID:        id,
		Status:    agenttypes.RunStatusCompleted,
		SessionID: "agent-session",
		Messages: []agenttypes.RunEvent{
			{Kind: agenttypes.EventText, Role: "assistant", Content: text},
		},
	}
}

func failed(id, msg string) agenttypes.AgentRun {
	return agenttypes.AgentRun{ID: id, Status: agenttypes.RunStatusError, Error: msg}
}

func TestSessionFollowUpScenario(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	launcher := &fakeLauncher{}
	s := NewSession("crm", store, WithWorkspace("/ws"))

	runID, err := s.Start(ctx, launcher)
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.Equal(t, PhaseAgentRunning, s.State().Phase)
	assert.Equal(t, PhaseSummary, store.last("crm").Phase, "agent_running is stored as summary")

	applied := s.HandleRunResult(ctx, completed("run-1", "Some notes.\n\n## Follow-up Questions (Round 2)\n\n1. Which CRM?"))
	require.True(t, applied)

	st := s.State()
	assert.Equal(t, PhaseFollowUp, st.Phase)
	assert.Equal(t, 2, st.Round)
	assert.Equal(t, "agent-session", st.SessionID)
	assert.NotEmpty(t, s.Questions())
	assert.Equal(t, "", s.CurrentRun())
	assert.Equal(t, st, store.last("crm"))

	_, err = s.SubmitAnswers(ctx, "Salesforce", launcher)
	require.NoError(t, err)
	st = s.State()
	assert.Equal(t, 3, st.Round)
	assert.Equal(t, PhaseAgentRunning, st.Phase)
	assert.Equal(t, "agent-session", launcher.sessions[1])
	assert.Contains(t, launcher.prompts[1], "> Salesforce")
	assert.Equal(t, Message{Role: RoleUser, Content: "Salesforce"}, st.Messages[len(st.Messages)-1])
}

func TestSessionRoundNeverDecreases(t *testing.T) {
	ctx := context.Background()
	launcher := &fakeLauncher{}
	s := NewSession("crm", newMemoryStore())

	_, err := s.Start(ctx, launcher)
	require.NoError(t, err)
	require.True(t, s.HandleRunResult(ctx, completed("run-1", "## Follow-up Questions — Round 5\n\n1. a")))
	require.Equal(t, 5, s.State().Round)

	_, err = s.SubmitAnswers(ctx, "a", launcher)
	require.NoError(t, err)
	require.True(t, s.HandleRunResult(ctx, completed("run-2", "## Follow-up Questions — Round 2\n\n1. b")))
	assert.Equal(t, 6, s.State().Round)

	_, err = s.SubmitAnswers(ctx, "b", launcher)
	require.NoError(t, err)
	require.True(t, s.HandleRunResult(ctx, completed("run-3", "## Follow-up Questions\n\n1. c")))
	assert.Equal(t, 7, s.State().Round, "missing round falls back to the current round")
}

func TestSessionGateCheckAndProceed(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	launcher := &fakeLauncher{}
	s := NewSession("crm", store)

	_, err := s.Start(ctx, launcher)
	require.NoError(t, err)
	require.True(t, s.HandleRunResult(ctx, completed("run-1", "My summary.")))
	assert.Equal(t, PhaseSummary, s.State().Phase)

	_, err = s.Confirm(ctx, launcher)
	require.NoError(t, err)
	assert.Equal(t, ConfirmMessage, s.State().Messages[1].Content)
	require.True(t, s.HandleRunResult(ctx, completed("run-2", "## Gate Check\n\nReady to proceed.")))
	assert.Equal(t, PhaseGateCheck, s.State().Phase)

	require.NoError(t, s.Proceed(ctx))
	assert.Equal(t, PhaseCompleted, s.State().Phase)
	assert.Equal(t, PhaseCompleted, store.last("crm").Phase)

	_, err = s.Confirm(ctx, launcher)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSessionCorrections(t *testing.T) {
	ctx := context.Background()
	launcher := &fakeLauncher{}
	s := NewSession("crm", newMemoryStore())

	_, err := s.Start(ctx, launcher)
	require.NoError(t, err)
	require.True(t, s.HandleRunResult(ctx, completed("run-1", "Summary v1")))

	_, err = s.SubmitCorrections(ctx, "  ", launcher)
	require.Error(t, err)

	_, err = s.SubmitCorrections(ctx, "Use EUR", launcher)
	require.NoError(t, err)
	assert.Contains(t, launcher.prompts[1], "corrected your summary")
	require.True(t, s.HandleRunResult(ctx, completed("run-2", "Summary v2")))
	assert.Equal(t, PhaseSummary, s.State().Phase)
	assert.Len(t, s.State().Messages, 3)
}

func TestSessionInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	launcher := &fakeLauncher{}
	s := NewSession("crm", newMemoryStore())

	_, err := s.SubmitAnswers(ctx, "x", launcher)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.Confirm(ctx, launcher)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, s.Proceed(ctx), ErrInvalidTransition)

	_, err = s.Start(ctx, launcher)
	require.NoError(t, err)
	_, err = s.Start(ctx, launcher)
	assert.ErrorIs(t, err, ErrInvalidTransition, "no second run while one is active")
	assert.Equal(t, 1, launcher.n)
}

func TestSessionFirstTurnErrorReturnsToNotStarted(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	s := NewSession("crm", store)

	_, err := s.Start(ctx, &fakeLauncher{})
	require.NoError(t, err)
	require.True(t, s.HandleRunResult(ctx, failed("run-1", "rate limited")))

	st := s.State()
	assert.Equal(t, PhaseNotStarted, st.Phase)
	assert.Equal(t, Message{Role: RoleAgent, Content: "rate limited", AgentID: "run-1"}, st.Messages[len(st.Messages)-1])
	assert.Equal(t, "rate limited", s.LastError())
	assert.Equal(t, PhaseNotStarted, store.last("crm").Phase)

	_, err = s.Start(ctx, &fakeLauncher{})
	require.NoError(t, err, "retry is a fresh user launch")
}

func TestSessionLaterErrorFallsBackToSummary(t *testing.T) {
	ctx := context.Background()
	launcher := &fakeLauncher{}
	s := NewSession("crm", newMemoryStore())

	_, err := s.Start(ctx, launcher)
	require.NoError(t, err)
	require.True(t, s.HandleRunResult(ctx, completed("run-1", "## Follow-up Questions\n\n1. a")))
	_, err = s.SubmitAnswers(ctx, "a", launcher)
	require.NoError(t, err)
	require.True(t, s.HandleRunResult(ctx, failed("run-2", "boom")))

	assert.Equal(t, PhaseSummary, s.State().Phase)
}

func TestSessionLaunchFailure(t *testing.T) {
	ctx := context.Background()
	s := NewSession("crm", newMemoryStore())

	_, err := s.Start(ctx, &fakeLauncher{err: errors.New("claude not found")})
	require.Error(t, err)
	assert.Equal(t, PhaseNotStarted, s.State().Phase)
	assert.Equal(t, "claude not found", s.LastError())
}

func TestSessionIgnoresStaleAndLateResults(t *testing.T) {
	ctx := context.Background()
	launcher := &fakeLauncher{}
	s := NewSession("crm", newMemoryStore())

	_, err := s.Start(ctx, launcher)
	require.NoError(t, err)

	assert.False(t, s.HandleRunResult(ctx, completed("other", "x")))
	running := completed("run-1", "x")
	running.Status = agenttypes.RunStatusRunning
	assert.False(t, s.HandleRunResult(ctx, running))

	s.Close()
	assert.False(t, s.HandleRunResult(ctx, completed("run-1", "x")))
	assert.Equal(t, PhaseAgentRunning, s.State().Phase)
}

func TestSessionResetAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	launcher := &fakeLauncher{}
	s := NewSession("crm", store)

	_, err := s.Start(ctx, launcher)
	require.NoError(t, err)

	resumed := NewSession("crm", store)
	require.NoError(t, resumed.Load(ctx))
	assert.Equal(t, PhaseSummary, resumed.State().Phase, "a crashed run resumes as summary")
	require.NoError(t, resumed.Load(ctx))
	assert.Equal(t, PhaseSummary, resumed.State().Phase)

	require.NoError(t, s.Reset(ctx))
	assert.Equal(t, NewState(), s.State())
	assert.False(t, s.HandleRunResult(ctx, completed("run-1", "late")))

	fresh := NewSession("crm", store)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, NewState(), fresh.State())
}

func TestSessionLoadRestoresQuestions(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	s := NewSession("crm", store)
	_, err := s.Start(ctx, &fakeLauncher{})
	require.NoError(t, err)
	require.True(t, s.HandleRunResult(ctx, completed("run-1", "## Follow-up Questions\n\n1. a")))

	resumed := NewSession("crm", store)
	require.NoError(t, resumed.Load(ctx))
	assert.Equal(t, "## Follow-up Questions\n\n1. a", resumed.Questions())
}

func TestSessionWithoutStore(t *testing.T) {
	ctx := context.Background()
	s := NewSession("crm", nil)
	require.NoError(t, s.Load(ctx))
	assert.Equal(t, NewState(), s.State())

	_, err := s.Start(ctx, &fakeLauncher{})
	require.NoError(t, err)
	require.True(t, s.HandleRunResult(ctx, completed("run-1", "## Follow-up Questions\n\n1. a")))
	assert.Equal(t, PhaseFollowUp, s.State().Phase)

	require.NoError(t, s.Load(ctx))
	assert.Equal(t, PhaseFollowUp, s.State().Phase, "nothing to load keeps the live state")

	require.NoError(t, s.Reset(ctx))
	assert.Equal(t, NewState(), s.State())
}
