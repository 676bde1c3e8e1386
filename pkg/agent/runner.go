// Package agent launches external agent processes and feeds their streamed
// output into the run registry. It is the "start/resume an agent run" call
// of the backend surface.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jingkaihe/skillbuilder/pkg/logger"
	"github.com/jingkaihe/skillbuilder/pkg/osutil"
	"github.com/jingkaihe/skillbuilder/pkg/runs"
	"github.com/jingkaihe/skillbuilder/pkg/telemetry"
	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

// CancelledMessage is recorded as the error of a cancelled run.
const CancelledMessage = "cancelled"

const (
	maxStderr = 64 * 1024
	maxLine   = 16 * 1024 * 1024
)

// Config is the launch template for agent processes.
type Config struct {
	Command      string
	Args         []string
	Model        string
	MaxTurns     int
	AllowedTools []string
}

// Request describes one run.
type Request struct {
	Prompt           string
	Model            string
	WorkingDirectory string
	AllowedTools     []string
	MaxTurns         int
	SessionID        string

	Label     string
	SkillName string
	StepIndex int
}

// Runner starts agent processes and owns the lifecycle of their runs.
type Runner struct {
	cfg      Config
	registry *runs.Registry

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	newID   func() string
	maxLine int
}

// NewRunner creates a runner dispatching into registry.
func NewRunner(cfg Config, registry *runs.Registry) *Runner {
	return &Runner{
		cfg:      cfg,
		registry: registry,
		cancels:  make(map[string]context.CancelFunc),
		newID:    uuid.NewString,
		maxLine:  maxLine,
	}
}

// Registry exposes the registry the runner dispatches into.
func (r *Runner) Registry() *runs.Registry {
	return r.registry
}

func (r *Runner) args(req Request) []string {
	args := append([]string(nil), r.cfg.Args...)

	model := req.Model
	if model == "" {
		model = r.cfg.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	turns := req.MaxTurns
	if turns <= 0 {
		turns = r.cfg.MaxTurns
	}
	if turns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(turns))
	}

	tools := req.AllowedTools
	if len(tools) == 0 {
		tools = r.cfg.AllowedTools
	}
	if len(tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}

	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	return args
}

// Start launches the agent and returns its run id once the process is
// running. Output is consumed in the background; use Wait for the result.
// When the process cannot be started the run is finished as an error and
// the error is returned alongside the id.
func (r *Runner) Start(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("prompt must not be empty")
	}

	runID := r.newID()
	model := req.Model
	if model == "" {
		model = r.cfg.Model
	}

	if err := r.registry.Dispatch(ctx, runs.Start{
		ID:        runID,
		Model:     model,
		Label:     req.Label,
		SkillName: req.SkillName,
		StepIndex: req.StepIndex,
	}); err != nil {
		return "", err
	}

	log := logger.G(ctx).WithFields(logrus.Fields{
		"run_id": runID,
		"label":  req.Label,
		"skill":  req.SkillName,
		"resume": req.SessionID != "",
	})

	// The run outlives the caller's request context; only Cancel stops it.
	runCtx, cancel := context.WithCancel(logger.WithLogger(context.WithoutCancel(ctx), log))

	cmd := exec.CommandContext(runCtx, r.cfg.Command, r.args(req)...)
	cmd.Dir = req.WorkingDirectory
	cmd.Stdin = strings.NewReader(req.Prompt)
	osutil.SetProcessGroup(cmd)
	osutil.SetTreeKill(cmd)
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return runID, r.fail(ctx, runID, errors.Wrap(err, "failed to open agent stdout"))
	}
	stderr := &limitedBuffer{limit: maxStderr}
	cmd.Stderr = stderr

	err = telemetry.WithSpan(ctx, "agent.start", func(context.Context) error {
		return cmd.Start()
	})
	if err != nil {
		cancel()
		return runID, r.fail(ctx, runID, errors.Wrapf(err, "failed to start agent command %q", r.cfg.Command))
	}

	r.mu.Lock()
	r.cancels[runID] = cancel
	r.mu.Unlock()

	log.WithField("pid", cmd.Process.Pid).Info("agent process started")
	go r.consume(runCtx, runID, cmd, stdout, stderr)

	return runID, nil
}

func (r *Runner) fail(ctx context.Context, runID string, cause error) error {
	if err := r.registry.Dispatch(ctx, runs.Finish{ID: runID, Status: agenttypes.RunStatusError, Error: cause.Error()}); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to record agent start failure")
	}
	return cause
}

func (r *Runner) consume(ctx context.Context, runID string, cmd *exec.Cmd, stdout io.Reader, stderr *limitedBuffer) {
	log := logger.G(ctx)

	var out outcome
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), r.maxLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		actions := translate(runID, line, time.Now(), &out)
		if actions == nil {
			log.WithField("line", truncate(string(line), 200)).Debug("ignoring agent output line")
		}
		for _, action := range actions {
			if err := r.registry.Dispatch(ctx, action); err != nil {
				log.WithError(err).Warn("failed to dispatch agent event")
			}
		}
	}
	readErr := scanner.Err()
	if readErr != nil {
		log.WithError(readErr).Warn("error reading agent output")
		// The agent blocks on a full pipe unless the rest is consumed.
		if _, err := io.Copy(io.Discard, stdout); err != nil {
			log.WithError(err).Debug("failed to drain agent output")
		}
	}

	waitErr := cmd.Wait()
	cancelled := ctx.Err() != nil

	r.mu.Lock()
	if cancel, ok := r.cancels[runID]; ok {
		cancel()
		delete(r.cancels, runID)
	}
	r.mu.Unlock()

	finish := runs.Finish{ID: runID, Status: agenttypes.RunStatusCompleted}
	switch {
	case cancelled:
		finish.Status = agenttypes.RunStatusError
		finish.Error = CancelledMessage
	case readErr != nil:
		finish.Status = agenttypes.RunStatusError
		finish.Error = "failed to read agent output: " + readErr.Error()
	case out.sawResult && !out.isError:
	case out.sawResult && out.isError:
		finish.Status = agenttypes.RunStatusError
		finish.Error = out.errText
	default:
		finish.Status = agenttypes.RunStatusError
		finish.Error = strings.TrimSpace(stderr.String())
		if finish.Error == "" && waitErr != nil {
			finish.Error = waitErr.Error()
		}
		if finish.Error == "" {
			finish.Error = "agent exited without a result"
		}
	}

	if err := r.registry.Dispatch(context.WithoutCancel(ctx), finish); err != nil {
		log.WithError(err).Warn("failed to record agent run result")
	}
}

// Wait blocks until the run reaches a terminal status.
func (r *Runner) Wait(ctx context.Context, runID string) (agenttypes.AgentRun, error) {
	return r.registry.Wait(ctx, runID)
}

// Cancel stops a running agent. The run finishes with CancelledMessage.
// Cancelling an unknown or finished run is a no-op.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// CancelAll stops every active run, used when the application shuts down.
func (r *Runner) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancels {
		cancel()
	}
	return len(r.cancels)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
