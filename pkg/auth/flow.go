package auth

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbuilder/pkg/logger"
)

const (
	// SlowDownIncrement is added to the poll interval on each slow_down.
	SlowDownIncrement = 5 * time.Second
	// SuccessDismissDelay is how long the success state is shown.
	SuccessDismissDelay = 1500 * time.Millisecond
	// DefaultInterval is used when the provider gives no interval.
	DefaultInterval = 5 * time.Second
)

// ErrFlowClosed is returned by operations on a closed flow.
var ErrFlowClosed = errors.New("device flow closed")

// Phase is the position of a device flow.
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseCode    Phase = "code"
	PhasePolling Phase = "polling"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
)

// State is a snapshot of the flow. Code is set in code and polling, User
// and Token in success, Err in error.
type State struct {
	Phase Phase
	Code  *DeviceCode
	User  *User
	Token string
	Scope string
	Err   string
}

// Terminal reports whether the flow stopped.
func (s State) Terminal() bool {
	return s.Phase == PhaseSuccess || s.Phase == PhaseError
}

// Flow is one device authorization dialog. Every continuation checks that
// the flow is still alive and still on the same attempt before it mutates
// state, so responses arriving after Close or Restart are dropped.
type Flow struct {
	mu        sync.Mutex
	provider  Provider
	clock     Clock
	opener    func(url string) error
	onSuccess func(State)
	onDismiss func()

	ctx      context.Context
	state    State
	interval time.Duration
	timer    Timer
	attempt  int
	alive    bool
	started  bool
	done     chan struct{}
	subs     map[int]chan State
	nextSub  int
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithClock replaces the real clock.
func WithClock(c Clock) FlowOption {
	return func(f *Flow) {
		f.clock = c
	}
}

// WithOpener sets the function that opens the verification URL.
func WithOpener(open func(url string) error) FlowOption {
	return func(f *Flow) {
		f.opener = open
	}
}

// WithOnSuccess sets a callback run once when the flow succeeds.
func WithOnSuccess(fn func(State)) FlowOption {
	return func(f *Flow) {
		f.onSuccess = fn
	}
}

// WithOnDismiss sets the callback run SuccessDismissDelay after success.
func WithOnDismiss(fn func()) FlowOption {
	return func(f *Flow) {
		f.onDismiss = fn
	}
}

// NewFlow creates an idle flow.
func NewFlow(provider Provider, opts ...FlowOption) *Flow {
	f := &Flow{
		provider: provider,
		clock:    RealClock{},
		alive:    true,
		done:     make(chan struct{}),
		subs:     make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current snapshot.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Interval returns the current poll interval.
func (f *Flow) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

// Subscribe returns a channel of state changes and a cancel function.
// Slow subscribers miss intermediate states.
func (f *Flow) Subscribe() (<-chan State, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextSub
	f.nextSub++
	ch := make(chan State, 8)
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}

// Start requests a device code: loading then code, or error.
func (f *Flow) Start(ctx context.Context) error {
	f.mu.Lock()
	if !f.alive {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.started {
		f.mu.Unlock()
		return errors.New("device flow already started")
	}
	f.started = true
	attempt := f.begin(ctx)
	f.mu.Unlock()
	return f.requestCode(ctx, attempt)
}

// Restart starts over from loading after an error.
func (f *Flow) Restart(ctx context.Context) error {
	f.mu.Lock()
	if !f.alive {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.state.Phase != PhaseError {
		f.mu.Unlock()
		return errors.Errorf("cannot restart device flow from %s", f.state.Phase)
	}
	f.done = make(chan struct{})
	attempt := f.begin(ctx)
	f.mu.Unlock()
	return f.requestCode(ctx, attempt)
}

// begin moves to loading under a new attempt. The caller holds mu.
func (f *Flow) begin(ctx context.Context) int {
	f.stopTimer()
	f.attempt++
	f.ctx = ctx
	f.set(State{Phase: PhaseLoading})
	return f.attempt
}

func (f *Flow) requestCode(ctx context.Context, attempt int) error {
	code, err := f.provider.RequestCode(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.current(attempt) {
		return ErrFlowClosed
	}
	if err != nil {
		f.finish(State{Phase: PhaseError, Err: err.Error()})
		return err
	}

	f.interval = code.Interval
	if f.interval <= 0 {
		f.interval = DefaultInterval
	}
	f.set(State{Phase: PhaseCode, Code: code})
	return nil
}

// OpenVerification opens the verification URL and starts polling.
func (f *Flow) OpenVerification() error {
	f.mu.Lock()
	if !f.alive {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.state.Phase != PhaseCode {
		phase := f.state.Phase
		f.mu.Unlock()
		return errors.Errorf("cannot start polling from %s", phase)
	}

	ctx := f.ctx
	uri := f.state.Code.VerificationURI
	f.set(State{Phase: PhasePolling, Code: f.state.Code})
	f.schedule(f.attempt)
	f.mu.Unlock()

	if f.opener != nil {
		if err := f.opener(uri); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to open verification URL")
		}
	}
	return nil
}

// schedule arms the next poll. The caller holds mu.
func (f *Flow) schedule(attempt int) {
	f.timer = f.clock.AfterFunc(f.interval, func() {
		f.poll(attempt)
	})
}

func (f *Flow) poll(attempt int) {
	f.mu.Lock()
	if !f.current(attempt) || f.state.Phase != PhasePolling {
		f.mu.Unlock()
		return
	}
	ctx := f.ctx
	deviceCode := f.state.Code.DeviceCode
	f.mu.Unlock()

	res, err := f.provider.Exchange(ctx, deviceCode)

	f.mu.Lock()
	notify := f.apply(ctx, attempt, res, err)
	f.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// apply records one poll response and returns the callback to run once mu
// is released, if any. The caller holds mu.
func (f *Flow) apply(ctx context.Context, attempt int, res PollResult, err error) func() {
	if !f.current(attempt) || f.state.Phase != PhasePolling {
		return nil
	}
	if err != nil {
		f.finish(State{Phase: PhaseError, Err: err.Error()})
		return nil
	}

	switch res.Status {
	case PollPending:
		f.schedule(attempt)
	case PollSlowDown:
		f.interval += SlowDownIncrement
		logger.G(ctx).WithField("interval", f.interval).Debug("device flow asked to slow down")
		f.schedule(attempt)
	case PollSuccess:
		f.finish(State{Phase: PhaseSuccess, User: res.User, Token: res.Token, Scope: res.Scope})
		if f.onDismiss != nil {
			f.timer = f.clock.AfterFunc(SuccessDismissDelay, func() {
				f.mu.Lock()
				live := f.current(attempt)
				f.mu.Unlock()
				if live {
					f.onDismiss()
				}
			})
		}
		if f.onSuccess != nil {
			st, fn := f.state, f.onSuccess
			return func() { fn(st) }
		}
	default:
		msg := res.Message
		if msg == "" {
			msg = string(res.Status)
		}
		f.finish(State{Phase: PhaseError, Err: msg})
	}
	return nil
}

// Close stops any pending timer. Later responses are dropped and Wait
// returns ErrFlowClosed.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive {
		return
	}
	f.alive = false
	f.stopTimer()
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
	f.closeDone()
}

// Wait blocks until the flow succeeds, fails or is closed. A Restart while
// waiting keeps Wait on the new attempt.
func (f *Flow) Wait(ctx context.Context) (State, error) {
	for {
		f.mu.Lock()
		done := f.done
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return State{}, ctx.Err()
		case <-done:
		}

		f.mu.Lock()
		st, alive := f.state, f.alive
		f.mu.Unlock()

		switch {
		case !alive:
			return st, ErrFlowClosed
		case st.Phase == PhaseError:
			return st, errors.New(st.Err)
		case st.Phase == PhaseSuccess:
			return st, nil
		}
	}
}

// current reports whether a continuation of attempt may still mutate state.
// The caller holds mu.
func (f *Flow) current(attempt int) bool {
	return f.alive && f.attempt == attempt
}

func (f *Flow) stopTimer() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Flow) finish(s State) {
	f.timer = nil
	f.set(s)
	f.closeDone()
}

func (f *Flow) closeDone() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

func (f *Flow) set(s State) {
	f.state = s
	for _, ch := range f.subs {
		select {
		case ch <- s:
		default:
		}
	}
}
