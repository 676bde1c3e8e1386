package reasoning

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbuilder/pkg/logger"
	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

// ErrInvalidTransition is returned when an operation is not allowed in the
// current phase.
var ErrInvalidTransition = errors.New("invalid reasoning session transition")

// ConfirmMessage is recorded as the user's message when a summary is
// confirmed.
const ConfirmMessage = "Confirmed."

// Launcher starts one reasoning agent run. sessionID is empty for the first
// turn and the agent's own session id afterwards. Launch must not deliver
// the run result synchronously.
type Launcher interface {
	Launch(ctx context.Context, prompt, sessionID string) (string, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, prompt, sessionID string) (string, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, prompt, sessionID string) (string, error) {
	return f(ctx, prompt, sessionID)
}

// Session drives the reasoning conversation of one skill.
type Session struct {
	mu        sync.Mutex
	skillName string
	workspace string
	store     Store

	state      State
	currentRun string
	questions  string
	turnBase   int
	lastError  string
	closed     bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithWorkspace sets the workspace root used in prompts.
func WithWorkspace(path string) SessionOption {
	return func(s *Session) {
		s.workspace = path
	}
}

// NewSession creates a not_started session for skillName. Call Load to
// resume a persisted one.
func NewSession(skillName string, store Store, opts ...SessionOption) *Session {
	s := &Session{
		skillName: skillName,
		store:     store,
		state:     NewState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory state with the persisted snapshot. It is
// idempotent and never leaves the session in agent_running. A session
// without a store keeps its in-memory state.
func (s *Session) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	state, err := s.store.Load(ctx, s.skillName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.currentRun = ""
	s.questions = ""
	if state.Phase == PhaseFollowUp {
		s.questions = Classify(state.LastAgentMessage()).Questions
	}
	return nil
}

// SkillName returns the skill this session belongs to.
func (s *Session) SkillName() string {
	return s.skillName
}

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// CurrentRun returns the id of the tracked agent run, or "".
func (s *Session) CurrentRun() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRun
}

// Questions returns the follow-up block extracted from the last agent
// response while in follow_up.
func (s *Session) Questions() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questions
}

// LastError returns the error text of the most recent failed turn.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Start launches the first turn from not_started.
func (s *Session) Start(ctx context.Context, launch Launcher) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(PhaseNotStarted); err != nil {
		return "", err
	}
	return s.launch(ctx, launch, InputNone, "")
}

// SubmitAnswers sends the user's answers to the follow-up questions and
// starts the next round.
func (s *Session) SubmitAnswers(ctx context.Context, answers string, launch Launcher) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(PhaseFollowUp); err != nil {
		return "", err
	}
	if strings.TrimSpace(answers) == "" {
		return "", errors.New("answers must not be empty")
	}
	s.state.Round++
	return s.launch(ctx, launch, InputAnswers, answers)
}

// Confirm accepts the agent's summary and asks it to continue.
func (s *Session) Confirm(ctx context.Context, launch Launcher) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(PhaseSummary); err != nil {
		return "", err
	}
	return s.launch(ctx, launch, InputConfirm, ConfirmMessage)
}

// SubmitCorrections sends the user's corrections to the summary.
func (s *Session) SubmitCorrections(ctx context.Context, text string, launch Launcher) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(PhaseSummary); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("corrections must not be empty")
	}
	return s.launch(ctx, launch, InputCorrections, text)
}

// Proceed completes the session from gate_check.
func (s *Session) Proceed(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(PhaseGateCheck); err != nil {
		return err
	}
	s.state.Phase = PhaseCompleted
	s.save(ctx)
	return nil
}

// Reset discards the conversation and removes the snapshot. A run still in
// flight is forgotten and its result ignored.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = NewState()
	s.currentRun = ""
	s.questions = ""
	s.lastError = ""
	if s.store == nil {
		return nil
	}
	return s.store.Delete(ctx, s.skillName)
}

// Close marks the session dead. Results delivered afterwards are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// HandleRunResult applies the terminal result of the current run. It
// reports whether the result was applied; results of other runs, non
// terminal runs and results arriving after Close are ignored.
func (s *Session) HandleRunResult(ctx context.Context, run agenttypes.AgentRun) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || run.ID == "" || run.ID != s.currentRun || s.state.Phase != PhaseAgentRunning {
		return false
	}
	if !run.Status.IsTerminal() {
		return false
	}

	s.currentRun = ""
	if run.SessionID != "" {
		s.state.SessionID = run.SessionID
	}

	if run.Status == agenttypes.RunStatusError {
		s.fail(ctx, agenttypes.ErrorText(run), run.ID)
		return true
	}

	text := agenttypes.AssistantText(run)
	s.state.Messages = append(s.state.Messages, Message{Role: RoleAgent, Content: text, AgentID: run.ID})
	s.lastError = ""

	c := Classify(text)
	switch c.Kind {
	case KindFollowUp:
		s.state.Phase = PhaseFollowUp
		if c.Round > s.state.Round {
			s.state.Round = c.Round
		}
		s.questions = c.Questions
	case KindGateCheck:
		s.state.Phase = PhaseGateCheck
	default:
		s.state.Phase = PhaseSummary
	}

	logger.G(ctx).WithField("skill", s.skillName).
		WithField("phase", s.state.Phase).
		WithField("round", s.state.Round).
		Debug("reasoning turn completed")
	s.save(ctx)
	return true
}

func (s *Session) expect(phase Phase) error {
	if s.closed {
		return errors.Wrap(ErrInvalidTransition, "session is closed")
	}
	if s.state.Phase != phase {
		return errors.Wrapf(ErrInvalidTransition, "expected phase %s, got %s", phase, s.state.Phase)
	}
	return nil
}

// launch moves to agent_running and starts the run. The caller holds mu.
func (s *Session) launch(ctx context.Context, launch Launcher, kind InputKind, input string) (string, error) {
	prompt, err := BuildPrompt(s.state, s.workspace, s.skillName, kind, input)
	if err != nil {
		return "", err
	}

	// A turn launched from not_started is always the first one.
	s.turnBase = len(s.state.Messages)
	if kind == InputNone {
		s.turnBase = 0
	} else {
		s.state.Messages = append(s.state.Messages, Message{Role: RoleUser, Content: input})
	}
	s.state.Phase = PhaseAgentRunning
	s.questions = ""
	s.save(ctx)

	runID, err := launch.Launch(ctx, prompt, s.state.SessionID)
	if err != nil {
		s.fail(ctx, err.Error(), runID)
		return runID, errors.Wrap(err, "failed to start reasoning agent")
	}
	s.currentRun = runID
	return runID, nil
}

// fail records a failed turn. The caller holds mu.
func (s *Session) fail(ctx context.Context, msg, runID string) {
	s.state.Messages = append(s.state.Messages, Message{Role: RoleAgent, Content: msg, AgentID: runID})
	if s.turnBase > 0 {
		s.state.Phase = PhaseSummary
	} else {
		s.state.Phase = PhaseNotStarted
	}
	s.currentRun = ""
	s.lastError = msg

	logger.G(ctx).WithField("skill", s.skillName).WithField("run_id", runID).Warnf("reasoning agent failed: %s", msg)
	s.save(ctx)
}

// save snapshots the state. Failures are logged and never block the
// transition. The caller holds mu.
func (s *Session) save(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, s.skillName, s.state); err != nil {
		logger.G(ctx).WithError(err).WithField("skill", s.skillName).Error("failed to persist reasoning session")
	}
}
