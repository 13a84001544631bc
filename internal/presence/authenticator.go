package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/benaskins/aegis/internal/policy"
	"github.com/benaskins/aegis/internal/storeerr"
)

const (
	// DefaultChallengeTimeout bounds how long a challenge may stay presented.
	DefaultChallengeTimeout = 30 * time.Second

	defaultMaxFailures   = 5
	defaultLockoutWindow = 30 * time.Second
)

// ErrInProgress is returned by Begin when a ceremony is already active.
var ErrInProgress = storeerr.New(storeerr.CodeAuthenticationInProgress, "")

// Record summarises a resolved ceremony.
type Record struct {
	ID       string
	Policy   policy.Policy
	Outcome  Outcome
	Started  time.Time
	Duration time.Duration
}

// Ceremony is one authentication attempt. Its outcome is available once
// Done is closed.
type Ceremony struct {
	id      string
	policy  policy.Policy
	reason  string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	// guarded by Authenticator.mu until done is closed
	resolved bool
	outcome  Outcome
}

func (c *Ceremony) ID() string            { return c.id }
func (c *Ceremony) Policy() policy.Policy { return c.policy }
func (c *Ceremony) Done() <-chan struct{} { return c.done }

// Outcome returns the resolved outcome. It must only be called after Done
// is closed.
func (c *Ceremony) Outcome() Outcome { return c.outcome }

// Wait blocks until the ceremony resolves or ctx is done.
func (c *Ceremony) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.outcome, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Authenticator runs at most one ceremony at a time.
type Authenticator struct {
	device   Device
	prompter Prompter
	timeout  time.Duration
	logger   *slog.Logger
	observe  func(Record)

	maxFailures int
	window      time.Duration

	mu      sync.Mutex
	state   State
	current *Ceremony
	limiter *rate.Limiter
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithTimeout sets the challenge timeout. A timed-out challenge resolves Failed.
func WithTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLockout locks authentication after maxFailures failed ceremonies
// within window. Capacity refills evenly over the window.
func WithLockout(maxFailures int, window time.Duration) Option {
	return func(a *Authenticator) {
		if maxFailures > 0 && window > 0 {
			a.maxFailures = maxFailures
			a.window = window
		}
	}
}

// WithObserver registers a callback invoked once per resolved ceremony.
func WithObserver(fn func(Record)) Option {
	return func(a *Authenticator) {
		a.observe = fn
	}
}

// NewAuthenticator creates an idle authenticator.
func NewAuthenticator(device Device, prompter Prompter, opts ...Option) *Authenticator {
	a := &Authenticator{
		device:      device,
		prompter:    prompter,
		timeout:     DefaultChallengeTimeout,
		maxFailures: defaultMaxFailures,
		window:      defaultLockoutWindow,
		logger:      slog.With("component", "presence"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.limiter = a.newLimiter()
	return a
}

func (a *Authenticator) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(a.window/time.Duration(a.maxFailures)), a.maxFailures)
}

// State returns the current state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Enrollment returns the device's current enrollment fingerprint.
func (a *Authenticator) Enrollment() string {
	return a.device.Capability().Enrollment
}

// Check evaluates p against the device without starting a ceremony.
func (a *Authenticator) Check(p policy.Policy) (Outcome, bool) {
	if a.lockedOut() {
		return Lockout, false
	}
	return Evaluate(p, a.device.Capability())
}

// CanAuthenticate reports whether a ceremony for p could currently succeed.
func (a *Authenticator) CanAuthenticate(p policy.Policy) bool {
	_, ok := a.Check(p)
	return ok
}

func (a *Authenticator) lockedOut() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limiter.Tokens() < 1
}

// Begin starts a ceremony for p. It never queues: if a ceremony is active
// it fails with ErrInProgress.
func (a *Authenticator) Begin(p policy.Policy, reason string) (*Ceremony, error) {
	if !p.Valid() {
		return nil, storeerr.Newf(storeerr.CodeInvalidArgument, "unknown authentication policy %q", p)
	}

	a.mu.Lock()
	if a.state != Idle {
		a.mu.Unlock()
		return nil, ErrInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Ceremony{
		id:      uuid.NewString(),
		policy:  p,
		reason:  reason,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	a.state = Evaluating
	a.current = c
	a.mu.Unlock()

	a.logger.Debug("ceremony evaluating", "ceremony", c.id, "policy", p)
	go a.run(ctx, c)
	return c, nil
}

func (a *Authenticator) run(ctx context.Context, c *Ceremony) {
	if outcome, ok := a.Check(c.policy); !ok {
		a.resolve(c, outcome)
		return
	}
	if !a.present(c) {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result := make(chan Outcome, 1)
	go func() {
		result <- a.prompter.Present(pctx, Challenge{ID: c.id, Policy: c.policy, Reason: c.reason})
	}()

	select {
	case outcome := <-result:
		a.resolve(c, outcome)
	case <-pctx.Done():
		// Cancel and Interrupt resolve before canceling ctx, so reaching
		// here unresolved means the challenge timed out.
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			a.logger.Info("challenge timed out", "ceremony", c.id, "timeout", a.timeout)
		}
		a.resolve(c, Failed)
	}
}

// present moves c into Presenting unless it was resolved while evaluating.
func (a *Authenticator) present(c *Ceremony) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != c || c.resolved {
		return false
	}
	a.state = Presenting
	a.logger.Debug("ceremony presenting", "ceremony", c.id, "policy", c.policy)
	return true
}

// resolve records the outcome of c exactly once, returns to Idle and then
// broadcasts by closing done.
func (a *Authenticator) resolve(c *Ceremony, outcome Outcome) {
	a.mu.Lock()
	if c.resolved {
		a.mu.Unlock()
		return
	}
	c.resolved = true
	c.outcome = outcome
	a.state = Resolved

	switch outcome {
	case Authenticated:
		a.limiter = a.newLimiter()
	case Failed:
		a.limiter.Allow()
	}

	a.current = nil
	a.state = Idle
	a.mu.Unlock()

	c.cancel()
	close(c.done)

	rec := Record{
		ID:       c.id,
		Policy:   c.policy,
		Outcome:  outcome,
		Started:  c.started,
		Duration: time.Since(c.started),
	}
	a.logger.Info("ceremony resolved", "ceremony", c.id, "policy", c.policy, "outcome", outcome, "duration", rec.Duration)
	if a.observe != nil {
		a.observe(rec)
	}
}

func (a *Authenticator) active() *Ceremony {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Cancel resolves the active ceremony as UserCanceled. It reports whether a
// ceremony was active.
func (a *Authenticator) Cancel() bool {
	c := a.active()
	if c == nil {
		return false
	}
	a.resolve(c, UserCanceled)
	return true
}

// Interrupt resolves the active ceremony as SystemCanceled. Hosts call it
// when the application is backgrounded or terminating; the ceremony is not
// resumed afterwards.
func (a *Authenticator) Interrupt() bool {
	c := a.active()
	if c == nil {
		return false
	}
	a.resolve(c, SystemCanceled)
	return true
}
