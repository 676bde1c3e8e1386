package server

import (
	"context"

	"github.com/jingkaihe/skillbuilder/pkg/gate"
	"github.com/jingkaihe/skillbuilder/pkg/logger"
	"github.com/jingkaihe/skillbuilder/pkg/reasoning"
	"github.com/jingkaihe/skillbuilder/pkg/workflow"
)

// liveSession returns the in-memory session of skillName, loading it from
// the store on first use. Turns started through the API are followed by
// this session, so later reads see agent_running until the run finishes.
func (s *Server) liveSession(ctx context.Context, skillName string) (*reasoning.Session, error) {
	if _, err := s.deps.Artifacts.Resolve(skillName, reasoning.SessionFile); err != nil {
		return nil, requestError{err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[skillName]; ok {
		return sess, nil
	}
	sess := reasoning.NewSession(skillName, s.deps.Sessions, reasoning.WithWorkspace(s.deps.Artifacts.Workspace()))
	if err := sess.Load(ctx); err != nil {
		return nil, err
	}
	s.sessions[skillName] = sess
	return sess, nil
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, name)
	}
}

type sessionResponse struct {
	reasoning.State
	CurrentRun string `json:"current_run,omitempty"`
	Questions  string `json:"questions,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

func describeSession(sess *reasoning.Session, runID string) sessionResponse {
	return sessionResponse{
		State:      sess.State(),
		CurrentRun: sess.CurrentRun(),
		Questions:  sess.Questions(),
		LastError:  sess.LastError(),
		RunID:      runID,
	}
}

// follow hands the result of runID to sess once the run finishes. It
// outlives the request that started the turn.
func (s *Server) follow(ctx context.Context, sess *reasoning.Session, runID string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if _, err := s.deps.Engine.Follow(ctx, sess, runID); err != nil {
			logger.G(ctx).WithError(err).WithField("run_id", runID).Warn("failed to follow reasoning run")
		}
	}()
}

type sessionTurnRequest struct {
	SkillName string `json:"skill_name"`
	Text      string `json:"text"`
}

type turnFunc func(ctx context.Context, sess *reasoning.Session, launch reasoning.Launcher, text string) (string, error)

// turn runs one launching transition of the session of req.SkillName.
func (s *Server) turn(needsText bool, fn turnFunc) func(context.Context, sessionTurnRequest) (any, error) {
	return func(ctx context.Context, req sessionTurnRequest) (any, error) {
		fields := map[string]string{"skill_name": req.SkillName}
		if needsText {
			fields["text"] = req.Text
		}
		if err := required(fields); err != nil {
			return nil, err
		}
		sess, err := s.liveSession(ctx, req.SkillName)
		if err != nil {
			return nil, err
		}

		launch := s.deps.Engine.ReasoningLauncher(req.SkillName, s.deps.Artifacts.Workspace())
		runID, err := fn(ctx, sess, launch, req.Text)
		if err != nil {
			return nil, err
		}
		s.follow(ctx, sess, runID)
		return describeSession(sess, runID), nil
	}
}

func startTurn(ctx context.Context, sess *reasoning.Session, launch reasoning.Launcher, _ string) (string, error) {
	return sess.Start(ctx, launch)
}

func answerTurn(ctx context.Context, sess *reasoning.Session, launch reasoning.Launcher, text string) (string, error) {
	return sess.SubmitAnswers(ctx, text, launch)
}

func confirmTurn(ctx context.Context, sess *reasoning.Session, launch reasoning.Launcher, _ string) (string, error) {
	return sess.Confirm(ctx, launch)
}

func correctTurn(ctx context.Context, sess *reasoning.Session, launch reasoning.Launcher, text string) (string, error) {
	return sess.SubmitCorrections(ctx, text, launch)
}

func (s *Server) getReasoningSession(ctx context.Context, req sessionRequest) (any, error) {
	if err := required(map[string]string{"skill_name": req.SkillName}); err != nil {
		return nil, err
	}
	sess, err := s.liveSession(ctx, req.SkillName)
	if err != nil {
		return nil, err
	}
	return describeSession(sess, ""), nil
}

func (s *Server) proceedReasoning(ctx context.Context, req sessionRequest) (any, error) {
	if err := required(map[string]string{"skill_name": req.SkillName}); err != nil {
		return nil, err
	}
	sess, err := s.liveSession(ctx, req.SkillName)
	if err != nil {
		return nil, err
	}
	if err := sess.Proceed(ctx); err != nil {
		return nil, err
	}
	return describeSession(sess, ""), nil
}

func (s *Server) resetReasoning(ctx context.Context, req sessionRequest) (any, error) {
	if err := required(map[string]string{"skill_name": req.SkillName}); err != nil {
		return nil, err
	}
	sess, err := s.liveSession(ctx, req.SkillName)
	if err != nil {
		return nil, err
	}
	if err := sess.Reset(ctx); err != nil {
		return nil, err
	}
	return describeSession(sess, ""), nil
}

type chooseGateRequest struct {
	SkillName string `json:"skill_name"`
	Kind      string `json:"kind"`
	Action    string `json:"action"`
}

type chooseGateResponse struct {
	Action       gate.Action      `json:"action"`
	Destination  gate.Destination `json:"destination"`
	NextStep     int              `json:"next_step"`
	NextStepName string           `json:"next_step_name"`
	RunID        string           `json:"run_id,omitempty"`
}

// chooseGateAction applies one dialog action to the current evaluation.
// auto_fill also starts the agent that answers the open questions.
func (s *Server) chooseGateAction(ctx context.Context, req chooseGateRequest) (any, error) {
	if err := required(map[string]string{"skill_name": req.SkillName, "action": req.Action}); err != nil {
		return nil, err
	}
	kind, err := gate.ParseKind(req.Kind)
	if err != nil {
		return nil, requestError{err}
	}

	ws := s.deps.Artifacts.Workspace()
	decision, err := s.deps.Engine.EvaluateGate(ctx, kind, req.SkillName, ws)
	if err != nil {
		return nil, err
	}
	out, err := gate.New(decision).Choose(gate.Action(req.Action))
	if err != nil {
		return nil, err
	}

	next := workflow.NextStep(kind, out)
	resp := chooseGateResponse{Action: out.Action, Destination: out.Destination, NextStep: next}
	if step, err := workflow.StepAt(next); err == nil {
		resp.NextStepName = step.Name
	}
	if out.AutoFill {
		resp.RunID, err = s.deps.Engine.AutoFill(ctx, kind, req.SkillName, ws)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}
