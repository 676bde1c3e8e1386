// Package runs tracks external agent runs. The Registry is a keyed store
// shared by every reader in the process; it is mutated only through
// Dispatch so ownership of a run's lifecycle stays with whoever launched it.
package runs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jingkaihe/skillbuilder/pkg/logger"
	"github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

var (
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("agent run not found")
	// ErrRunExists is returned when Start reuses an id.
	ErrRunExists = errors.New("agent run already exists")
)

// Store persists finished runs.
type Store interface {
	SaveRun(ctx context.Context, run agent.AgentRun) error
	ListRuns(ctx context.Context, skillName string, limit int) ([]agent.AgentRun, error)
}

// Registry holds every run known to this process.
type Registry struct {
	mu      sync.RWMutex
	runs    map[string]*agent.AgentRun
	done    map[string]chan struct{}
	subs    map[int]chan string
	nextSub int

	store   Store
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore persists runs to s once they reach a terminal status.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithMetrics records run counters on m.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		runs: make(map[string]*agent.AgentRun),
		done: make(map[string]chan struct{}),
		subs: make(map[int]chan string),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch applies a to its run. Actions on terminal runs are dropped.
func (r *Registry) Dispatch(ctx context.Context, a Action) error {
	log := logger.G(ctx).WithField("run_id", a.RunID())

	r.mu.Lock()
	if start, ok := a.(Start); ok {
		if _, exists := r.runs[start.ID]; exists {
			r.mu.Unlock()
			return errors.Wrap(ErrRunExists, start.ID)
		}
		r.runs[start.ID] = &agent.AgentRun{
			ID:        start.ID,
			Status:    agent.RunStatusInitializing,
			Model:     start.Model,
			Label:     start.Label,
			SkillName: start.SkillName,
			StepIndex: start.StepIndex,
			StartTime: r.now(),
		}
		r.done[start.ID] = make(chan struct{})
		r.mu.Unlock()

		r.metrics.startedRun()
		log.WithField("label", start.Label).Debug("agent run registered")
		r.notify(start.ID)
		return nil
	}

	current, ok := r.runs[a.RunID()]
	if !ok {
		r.mu.Unlock()
		return errors.Wrap(ErrRunNotFound, a.RunID())
	}

	next, changed := reduce(*current, a, r.now())
	if !changed {
		status := current.Status
		r.mu.Unlock()
		if status.IsTerminal() {
			log.WithField("status", status).Debug("dropping action for finished run")
		}
		return nil
	}
	*current = next
	// reduce never touches a terminal run, so this branch runs once per run.
	finished := current.Status.IsTerminal()
	var snapshot agent.AgentRun
	if finished {
		snapshot = current.Clone()
		close(r.done[current.ID])
	}
	r.mu.Unlock()

	if finished {
		log.WithFields(logrus.Fields{
			"status":    snapshot.Status,
			"num_turns": snapshot.NumTurns,
			"cost":      snapshot.TotalCost,
		}).Info("agent run finished")
		r.metrics.finishedRun(snapshot)
		r.persist(ctx, snapshot)
	}
	r.notify(a.RunID())
	return nil
}

func (r *Registry) persist(ctx context.Context, run agent.AgentRun) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		logger.G(ctx).WithError(err).WithField("run_id", run.ID).Warn("failed to persist agent run")
	}
}

// Get returns a copy of the run.
func (r *Registry) Get(id string) (agent.AgentRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return agent.AgentRun{}, errors.Wrap(ErrRunNotFound, id)
	}
	return run.Clone(), nil
}

// List returns copies of all runs, newest first.
func (r *Registry) List() []agent.AgentRun {
	r.mu.RLock()
	out := make([]agent.AgentRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// HasActive reports whether any run has not reached a terminal status.
func (r *Registry) HasActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, run := range r.runs {
		if !run.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// Wait blocks until the run is terminal or ctx is done.
func (r *Registry) Wait(ctx context.Context, id string) (agent.AgentRun, error) {
	r.mu.RLock()
	done, ok := r.done[id]
	r.mu.RUnlock()
	if !ok {
		return agent.AgentRun{}, errors.Wrap(ErrRunNotFound, id)
	}

	select {
	case <-done:
		return r.Get(id)
	case <-ctx.Done():
		return agent.AgentRun{}, ctx.Err()
	}
}

// Subscribe returns a channel receiving the id of every changed run and a
// function that cancels the subscription. Slow subscribers miss
// notifications rather than block Dispatch.
func (r *Registry) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 32)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *Registry) notify(runID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.subs {
		select {
		case ch <- runID:
		default:
		}
	}
}
