package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbuilder/pkg/agent"
	"github.com/jingkaihe/skillbuilder/pkg/artifacts"
	"github.com/jingkaihe/skillbuilder/pkg/decisions"
	"github.com/jingkaihe/skillbuilder/pkg/feedback"
	"github.com/jingkaihe/skillbuilder/pkg/gate"
	"github.com/jingkaihe/skillbuilder/pkg/reasoning"
	"github.com/jingkaihe/skillbuilder/pkg/runs"
	"github.com/jingkaihe/skillbuilder/pkg/skills"
	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
	"github.com/jingkaihe/skillbuilder/pkg/workflow"
)

type command func(ctx context.Context, body json.RawMessage) (any, error)

// requestError marks errors caused by the caller.
type requestError struct{ error }

func (e requestError) Unwrap() error { return e.error }

func invalid(format string, args ...any) error {
	return requestError{errors.Errorf(format, args...)}
}

func statusFor(err error) int {
	var re requestError
	switch {
	case errors.As(err, &re),
		errors.Is(err, runs.ErrRunNotFound),
		errors.Is(err, skills.ErrSkillNotFound),
		errors.Is(err, skills.ErrSkillExists),
		errors.Is(err, artifacts.ErrOutsideSkill),
		errors.Is(err, gate.ErrActionNotOffered),
		errors.Is(err, gate.ErrEmptyEvaluation),
		errors.Is(err, reasoning.ErrInvalidTransition),
		errors.Is(err, os.ErrNotExist):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// handle adapts a typed handler to a command.
func handle[T any](fn func(ctx context.Context, req T) (any, error)) command {
	return func(ctx context.Context, body json.RawMessage) (any, error) {
		var req T
		dec := json.NewDecoder(strings.NewReader(string(body)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return nil, requestError{errors.Wrap(err, "invalid request body")}
		}
		return fn(ctx, req)
	}
}

func required(fields map[string]string) error {
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			return invalid("%s is required", name)
		}
	}
	return nil
}

func (s *Server) commandTable() map[string]command {
	return map[string]command{
		"start_agent":           handle(s.startAgent),
		"run_workflow_step":     handle(s.runWorkflowStep),
		"get_agent_run":         handle(s.getAgentRun),
		"list_agent_runs":       handle(s.listAgentRuns),
		"cancel_agent_run":      handle(s.cancelAgentRun),
		"read_artifact":         handle(s.readArtifact),
		"save_artifact":         handle(s.saveArtifact),
		"capture_artifacts":     handle(s.captureArtifacts),
		"git_pull":              handle(s.gitPull),
		"git_push":              handle(s.gitPush),
		"delete_skill":          handle(s.deleteSkill),
		"rename_skill":          handle(s.renameSkill),
		"update_skill_metadata": handle(s.updateSkillMetadata),
		"export_skill":          handle(s.exportSkill),
		"import_skill":          handle(s.importSkill),
		"submit_feedback":       handle(s.submitFeedback),
		"get_reasoning_session": handle(s.getReasoningSession),
		"reasoning_start":       handle(s.turn(false, startTurn)),
		"reasoning_answer":      handle(s.turn(true, answerTurn)),
		"reasoning_confirm":     handle(s.turn(false, confirmTurn)),
		"reasoning_correct":     handle(s.turn(true, correctTurn)),
		"reasoning_proceed":     handle(s.proceedReasoning),
		"reasoning_reset":       handle(s.resetReasoning),
		"evaluate_gate":         handle(s.evaluateGate),
		"choose_gate_action":    handle(s.chooseGateAction),
		"parse_decisions":       handle(s.parseDecisions),
	}
}

type startAgentRequest struct {
	Prompt       string   `json:"prompt"`
	Model        string   `json:"model"`
	Cwd          string   `json:"cwd"`
	AllowedTools []string `json:"allowed_tools"`
	MaxTurns     int      `json:"max_turns"`
	SessionID    string   `json:"session_id"`
	SkillName    string   `json:"skill_name"`
	StepIndex    int      `json:"step_index"`
	Label        string   `json:"label"`
}

type runIDResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) startAgent(ctx context.Context, req startAgentRequest) (any, error) {
	if err := required(map[string]string{"prompt": req.Prompt}); err != nil {
		return nil, err
	}
	cwd := req.Cwd
	if cwd == "" {
		cwd = s.deps.Artifacts.Workspace()
	}
	id, err := s.deps.Agents.Start(ctx, agent.Request{
		Prompt:           req.Prompt,
		Model:            req.Model,
		WorkingDirectory: cwd,
		AllowedTools:     req.AllowedTools,
		MaxTurns:         req.MaxTurns,
		SessionID:        req.SessionID,
		Label:            req.Label,
		SkillName:        req.SkillName,
		StepIndex:        req.StepIndex,
	})
	if err != nil {
		return nil, err
	}
	return runIDResponse{RunID: id}, nil
}

type stepRequest struct {
	SkillName string `json:"skill_name"`
	StepIndex int    `json:"step_index"`
	Domain    string `json:"domain"`
}

func (s *Server) runWorkflowStep(ctx context.Context, req stepRequest) (any, error) {
	if err := required(map[string]string{"skill_name": req.SkillName}); err != nil {
		return nil, err
	}
	step, err := workflow.StepAt(req.StepIndex)
	if err != nil {
		return nil, requestError{err}
	}
	if step.Human {
		return nil, invalid("step %d (%s) is edited by the user", step.Index, step.Name)
	}
	id, err := s.deps.Engine.RunStep(ctx, req.SkillName, req.StepIndex, req.Domain, s.deps.Artifacts.Workspace())
	if err != nil {
		return nil, err
	}
	return runIDResponse{RunID: id}, nil
}

type runRequest struct {
	RunID string `json:"run_id"`
}

func (s *Server) getAgentRun(_ context.Context, req runRequest) (any, error) {
	if err := required(map[string]string{"run_id": req.RunID}); err != nil {
		return nil, err
	}
	return s.deps.Registry.Get(req.RunID)
}

type listRunsRequest struct {
	SkillName string `json:"skill_name"`
}

func (s *Server) listAgentRuns(_ context.Context, req listRunsRequest) (any, error) {
	out := []agenttypes.AgentRun{}
	for _, run := range s.deps.Registry.List() {
		if req.SkillName == "" || run.SkillName == req.SkillName {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *Server) cancelAgentRun(_ context.Context, req runRequest) (any, error) {
	if _, err := s.deps.Registry.Get(req.RunID); err != nil {
		return nil, err
	}
	return map[string]bool{"cancelled": s.deps.Agents.Cancel(req.RunID)}, nil
}

type artifactRequest struct {
	SkillName string `json:"skill_name"`
	Step      int    `json:"step"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

func (s *Server) readArtifact(_ context.Context, req artifactRequest) (any, error) {
	if err := required(map[string]string{"skill_name": req.SkillName, "path": req.Path}); err != nil {
		return nil, err
	}
	content, err := s.deps.Artifacts.Read(req.SkillName, req.Step, req.Path)
	if err != nil {
		return nil, err
	}
	return map[string]string{"content": content}, nil
}

func (s *Server) saveArtifact(_ context.Context, req artifactRequest) (any, error) {
	if err := required(map[string]string{"skill_name": req.SkillName, "path": req.Path}); err != nil {
		return nil, err
	}
	diff, err := s.deps.Artifacts.Save(req.SkillName, req.Step, req.Path, req.Content)
	if err != nil {
		return nil, err
	}
	return map[string]string{"diff": diff}, nil
}

func (s *Server) captureArtifacts(_ context.Context, req artifactRequest) (any, error) {
	if err := required(map[string]string{"skill_name": req.SkillName}); err != nil {
		return nil, err
	}
	files, err := s.deps.Artifacts.Capture(req.SkillName, req.Step)
	if err != nil {
		return nil, err
	}
	return map[string]any{"files": files}, nil
}

type gitRequest struct {
	Message string `json:"message"`
}

func (s *Server) token(ctx context.Context) (string, error) {
	if s.deps.Token == nil {
		return "", nil
	}
	return s.deps.Token(ctx)
}

func (s *Server) gitPull(ctx context.Context, _ gitRequest) (any, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	return s.deps.Git.Pull(ctx, s.deps.Artifacts.Workspace(), token)
}

func (s *Server) gitPush(ctx context.Context, req gitRequest) (any, error) {
	if err := required(map[string]string{"message": req.Message}); err != nil {
		return nil, err
	}
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Git.Push(ctx, s.deps.Artifacts.Workspace(), token, req.Message); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

type skillRequest struct {
	Name        string   `json:"name"`
	NewName     string   `json:"new_name"`
	Description string   `json:"description"`
	Domain      string   `json:"domain"`
	Tags        []string `json:"tags"`
	Dest        string   `json:"dest"`
	Excludes    []string `json:"excludes"`
}

func (s *Server) deleteSkill(_ context.Context, req skillRequest) (any, error) {
	if err := required(map[string]string{"name": req.Name}); err != nil {
		return nil, err
	}
	if err := s.deps.Catalog.Delete(req.Name); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) renameSkill(_ context.Context, req skillRequest) (any, error) {
	if err := required(map[string]string{"name": req.Name, "new_name": req.NewName}); err != nil {
		return nil, err
	}
	if err := skills.ValidateName(req.NewName); err != nil {
		return nil, requestError{err}
	}
	return s.deps.Catalog.Rename(req.Name, req.NewName)
}

func (s *Server) updateSkillMetadata(_ context.Context, req skillRequest) (any, error) {
	if err := required(map[string]string{"name": req.Name, "description": req.Description}); err != nil {
		return nil, err
	}
	return s.deps.Catalog.UpdateMetadata(req.Name, skills.Metadata{
		Description: req.Description,
		Domain:      req.Domain,
		Tags:        req.Tags,
	})
}

func (s *Server) exportSkill(_ context.Context, req skillRequest) (any, error) {
	if err := required(map[string]string{"name": req.Name, "dest": req.Dest}); err != nil {
		return nil, err
	}
	excludes := req.Excludes
	if excludes == nil {
		excludes = skills.DefaultExcludes
	}
	path, err := s.deps.Catalog.Export(req.Name, req.Dest, excludes)
	if err != nil {
		return nil, err
	}
	return map[string]string{"path": path}, nil
}

type importRequest struct {
	Path string `json:"path"`
}

func (s *Server) importSkill(_ context.Context, req importRequest) (any, error) {
	if err := required(map[string]string{"path": req.Path}); err != nil {
		return nil, err
	}
	return s.deps.Catalog.Import(req.Path)
}

func (s *Server) submitFeedback(ctx context.Context, req feedback.Feedback) (any, error) {
	if _, err := feedback.ParseType(string(req.Type)); err != nil {
		return nil, requestError{err}
	}
	if err := required(map[string]string{"title": req.Title}); err != nil {
		return nil, err
	}
	id, err := s.deps.Feedback.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": id}, nil
}

type sessionRequest struct {
	SkillName string `json:"skill_name"`
}

type gateRequest struct {
	SkillName string `json:"skill_name"`
	Kind      string `json:"kind"`
}

func (s *Server) evaluateGate(ctx context.Context, req gateRequest) (any, error) {
	if err := required(map[string]string{"skill_name": req.SkillName}); err != nil {
		return nil, err
	}
	kind, err := gate.ParseKind(req.Kind)
	if err != nil {
		return nil, requestError{err}
	}
	return s.deps.Engine.EvaluateGate(ctx, kind, req.SkillName, s.deps.Artifacts.Workspace())
}

type decisionsRequest struct {
	Content   string `json:"content"`
	SkillName string `json:"skill_name"`
}

type decisionsResponse struct {
	Document decisions.Document `json:"document"`
	Summary  decisions.Summary  `json:"summary"`
}

// parseDecisions parses the given content, or the decisions file of
// skill_name when no content is sent.
func (s *Server) parseDecisions(_ context.Context, req decisionsRequest) (any, error) {
	content := req.Content
	if content == "" {
		if req.SkillName == "" {
			return nil, invalid("content or skill_name is required")
		}
		var err error
		content, err = s.deps.Artifacts.Read(req.SkillName, workflow.StepConfirmDecisions, workflow.ContextDir+"/"+decisions.File)
		if err != nil {
			return nil, err
		}
	}
	doc := decisions.ParseDecisions(content)
	return decisionsResponse{Document: doc, Summary: decisions.Summarize(doc)}, nil
}
