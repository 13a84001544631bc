// Package dispatch is the public-facing orchestrator of the secret store.
//
// Each storage request is validated, resolved against its entry's policy and
// either forwarded straight to the vault or parked behind an authentication
// ceremony. At most one ceremony runs at a time. Requests for the policy of
// the running ceremony join it and share its outcome; requests for any other
// policy wait in a FIFO backlog and start the next ceremony once the current
// one resolves. Every vault operation, with or without a ceremony, runs on
// a single worker in the order it was scheduled.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benaskins/aegis/internal/keychain"
	"github.com/benaskins/aegis/internal/metrics"
	"github.com/benaskins/aegis/internal/policy"
	"github.com/benaskins/aegis/internal/presence"
	"github.com/benaskins/aegis/internal/storeerr"
)

// DefaultMaxValueBytes bounds the size of a stored value.
const DefaultMaxValueBytes = 64 << 10

// Options are the runtime-adjustable settings of a Dispatcher.
type Options struct {
	// MaxValueBytes bounds written values. Zero means DefaultMaxValueBytes.
	MaxValueBytes int
	// StorePolicy is the store-wide policy deleteAll must satisfy. The
	// strongest policy attached to any stored entry is also enforced.
	StorePolicy policy.Policy
	// RequireDeleteAllAuth makes deleteAll fail with AuthenticationRequired
	// when no store-wide policy applies. The zero value lets it proceed
	// without a ceremony.
	RequireDeleteAllAuth bool
}

// batch is the set of requests waiting on one ceremony.
type batch struct {
	policy   policy.Policy
	ceremony *presence.Ceremony
	waiters  []*Pending
}

// Dispatcher serializes storage verbs for one store instance.
type Dispatcher struct {
	vault    keychain.Store
	resolver *policy.Resolver
	auth     *presence.Authenticator
	metrics  *metrics.Collectors
	logger   *slog.Logger

	mu      sync.Mutex
	opts    Options
	current *batch
	backlog []*Pending

	// work is the FIFO of requests cleared for the vault. One drain
	// goroutine runs while it is non-empty.
	work     []*Pending
	draining bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records request outcomes in m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New creates a dispatcher. The authenticator is owned by the dispatcher
// from here on; nothing else may call Begin on it.
func New(vault keychain.Store, resolver *policy.Resolver, auth *presence.Authenticator, opts Options, options ...Option) *Dispatcher {
	d := &Dispatcher{
		vault:    vault,
		resolver: resolver,
		auth:     auth,
		opts:     opts,
		logger:   slog.With("component", "dispatch"),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// SetOptions replaces the runtime options. Queued requests keep the
// requirement they were resolved with.
func (d *Dispatcher) SetOptions(opts Options) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = opts
}

func (d *Dispatcher) options() Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts
}

// Submit validates req and schedules it. Validation and capability errors
// resolve the returned Pending before Submit returns.
func (d *Dispatcher) Submit(req Request) *Pending {
	p := &Pending{d: d, req: req, done: make(chan struct{})}
	start := time.Now()
	if d.metrics != nil {
		go func() {
			<-p.done
			d.metrics.ObserveRequest(req.Verb.String(), string(storeerr.CodeOf(p.err)), time.Since(start))
		}()
	}

	opts := d.options()
	if err := validate(&p.req, opts); err != nil {
		d.complete(p, Result{}, err)
		return p
	}

	switch req.Verb {
	case VerbCanAuthenticate:
		d.complete(p, Result{Bool: d.auth.CanAuthenticate(req.Policy)}, nil)
		return p
	case VerbContainsKey:
		d.dispatchDirect(p)
		return p
	}

	need, err := d.requirement(p.req, opts)
	if err != nil {
		d.complete(p, Result{}, err)
		return p
	}
	p.need = need
	if !need.Required {
		d.dispatchDirect(p)
		return p
	}

	if p.req.Reason == "" {
		p.req.Reason = defaultReason(p.req)
	}
	d.enqueue(p)
	return p
}

// requirement resolves whether req needs a ceremony and under which policy.
func (d *Dispatcher) requirement(req Request, opts Options) (policy.Requirement, error) {
	switch req.Verb {
	case VerbAuthenticate:
		return policy.Requirement{Required: true, Policy: req.Policy}, nil
	case VerbDeleteAll:
		p := d.resolver.StoreWide(opts.StorePolicy)
		if p != policy.None {
			return policy.Requirement{Required: true, Policy: p}, nil
		}
		if opts.RequireDeleteAllAuth {
			return policy.Requirement{}, storeerr.New(storeerr.CodeAuthenticationRequired, "deleteAll requires a store-wide authentication policy")
		}
		return policy.Requirement{}, nil
	default:
		// Writes are gated by the policy of the entry they replace.
		return d.resolver.Lookup(req.Key), nil
	}
}

// enqueue joins p to the running ceremony, starts one, or parks p in the
// backlog.
func (d *Dispatcher) enqueue(p *Pending) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.current == nil:
		d.startBatch(p.need.Policy, p.req.Reason, []*Pending{p})
	case d.current.joinable(p.need.Policy):
		d.current.waiters = append(d.current.waiters, p)
	default:
		d.backlog = append(d.backlog, p)
	}
}

// joinable reports whether b runs under pol and its ceremony has not
// resolved yet. A resolved batch waits for await to hand over; requests
// arriving in that window start the next ceremony instead.
func (b *batch) joinable(pol policy.Policy) bool {
	if b.policy != pol {
		return false
	}
	select {
	case <-b.ceremony.Done():
		return false
	default:
		return true
	}
}

// startBatch begins a ceremony for waiters. d.mu must be held.
func (d *Dispatcher) startBatch(pol policy.Policy, reason string, waiters []*Pending) {
	c, err := d.auth.Begin(pol, reason)
	if err != nil {
		d.logger.Error("starting ceremony", "policy", pol, "error", err)
		for _, w := range waiters {
			w.state = stateFinished
			w.finish(Result{}, err)
		}
		return
	}
	b := &batch{policy: pol, ceremony: c, waiters: waiters}
	d.current = b
	d.logger.Debug("ceremony started", "ceremony", c.ID(), "policy", pol, "waiters", len(waiters))
	go d.await(b)
}

// await fans the outcome of b's ceremony out to its waiters in arrival
// order and hands the authenticator to the next backlog group.
func (d *Dispatcher) await(b *batch) {
	<-b.ceremony.Done()
	outcome := b.ceremony.Outcome()

	d.mu.Lock()
	waiters := b.waiters
	b.waiters = nil
	for _, w := range waiters {
		if outcome == presence.Authenticated {
			d.schedule(w)
		} else {
			w.state = stateDispatched
		}
	}
	if d.current == b {
		d.current = nil
	}
	d.startNext()
	d.mu.Unlock()

	d.logger.Debug("ceremony fan-out", "ceremony", b.ceremony.ID(), "outcome", outcome, "waiters", len(waiters))
	if outcome == presence.Authenticated {
		return
	}
	for _, w := range waiters {
		if w.req.Verb == VerbAuthenticate {
			d.complete(w, Result{Outcome: outcome}, nil)
			continue
		}
		d.complete(w, Result{}, outcomeError(outcome))
	}
}

// startNext starts a ceremony for the head of the backlog, taking every
// backlogged request with the same policy along. d.mu must be held.
// A group whose ceremony cannot begin is failed and the next one tried.
func (d *Dispatcher) startNext() {
	for d.current == nil && len(d.backlog) > 0 {
		head := d.backlog[0]
		var group, rest []*Pending
		for _, p := range d.backlog {
			if p.need.Policy == head.need.Policy {
				group = append(group, p)
			} else {
				rest = append(rest, p)
			}
		}
		d.backlog = rest
		d.startBatch(head.need.Policy, head.req.Reason, group)
	}
}

// cancel removes p from whatever it is waiting on.
func (d *Dispatcher) cancel(p *Pending) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.state != stateQueued {
		return false
	}
	if d.current != nil {
		d.current.waiters = remove(d.current.waiters, p)
	}
	d.backlog = remove(d.backlog, p)
	p.state = stateFinished
	p.finish(Result{}, storeerr.New(storeerr.CodeRequestCanceled, ""))
	return true
}

func remove(list []*Pending, p *Pending) []*Pending {
	for i, q := range list {
		if q == p {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// CancelAuthentication cancels the running ceremony on the user's behalf.
// Its waiters resolve with AuthenticationCanceled; the backlog proceeds.
func (d *Dispatcher) CancelAuthentication() bool {
	return d.auth.Cancel()
}

// Background reports that the host went to the background. The running
// ceremony is forced to SystemCanceled and every backlogged request fails
// with AuthenticationCanceled; nothing resumes on return to the foreground.
func (d *Dispatcher) Background() {
	d.mu.Lock()
	backlog := d.backlog
	d.backlog = nil
	for _, p := range backlog {
		p.state = stateFinished
	}
	d.mu.Unlock()

	err := outcomeError(presence.SystemCanceled)
	for _, p := range backlog {
		p.finish(Result{}, err)
	}
	if d.auth.Interrupt() || len(backlog) > 0 {
		d.logger.Info("host backgrounded, authentication canceled", "backlog", len(backlog))
	}
}

// dispatchDirect schedules p for the vault without a ceremony.
func (d *Dispatcher) dispatchDirect(p *Pending) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schedule(p)
}

// schedule appends p to the vault queue and starts the drain goroutine if
// none is running. d.mu must be held.
func (d *Dispatcher) schedule(p *Pending) {
	p.state = stateDispatched
	d.work = append(d.work, p)
	if !d.draining {
		d.draining = true
		go d.drain()
	}
}

// drain executes queued vault work one request at a time until the queue
// is empty.
func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.work) == 0 {
			d.draining = false
			d.mu.Unlock()
			return
		}
		p := d.work[0]
		d.work[0] = nil
		d.work = d.work[1:]
		d.mu.Unlock()

		d.execute(p)
	}
}

// complete resolves p. Callers must own p: it is either not yet visible to
// cancel or already marked dispatched.
func (d *Dispatcher) complete(p *Pending, res Result, err error) {
	d.mu.Lock()
	p.state = stateFinished
	d.mu.Unlock()
	p.finish(res, err)
}

// execute performs the vault side of p. Only drain calls it.
func (d *Dispatcher) execute(p *Pending) {
	res, err := d.perform(p)
	d.complete(p, res, err)
}

func (d *Dispatcher) perform(p *Pending) (Result, error) {
	req := p.req

	// An entry may have been re-written with a stronger policy while p
	// was queued; the ceremony p went through no longer covers it.
	if req.Verb == VerbRead || req.Verb == VerbWrite || req.Verb == VerbDelete {
		if now := d.resolver.Lookup(req.Key); now.Policy.Strength() > p.need.Policy.Strength() {
			return Result{}, storeerr.Newf(storeerr.CodeAuthenticationRequired, "entry now requires %s", now.Policy)
		}
	}

	switch req.Verb {
	case VerbRead:
		value, err := d.vault.Get(req.Key)
		if err != nil {
			return Result{}, vaultError(err)
		}
		if p.need.Policy.BindsEnrollment() && p.need.Enrollment != d.auth.Enrollment() {
			d.logger.Warn("biometric enrollment changed, invalidating entry", "key", req.Key)
			if err := d.vault.Delete(req.Key); err != nil && !errors.Is(err, keychain.ErrNotFound) {
				return Result{}, vaultError(err)
			}
			d.resolver.Forget(req.Key)
			return Result{}, storeerr.Newf(storeerr.CodeNotFound, "secret %q was invalidated by a biometric enrollment change", req.Key)
		}
		return Result{Value: value}, nil

	case VerbWrite:
		if err := d.vault.Set(req.Key, req.Value, req.Accessibility); err != nil {
			return Result{}, vaultError(err)
		}
		if err := d.resolver.Record(req.Key, req.Accessibility, req.Policy, d.auth.Enrollment()); err != nil {
			// Without its metadata the entry would read back unprotected.
			d.vault.Delete(req.Key)
			return Result{}, storeerr.Wrap(storeerr.CodeVaultError, "recording entry policy", err)
		}
		return Result{}, nil

	case VerbDelete:
		if err := d.vault.Delete(req.Key); err != nil && !errors.Is(err, keychain.ErrNotFound) {
			return Result{}, vaultError(err)
		}
		if err := d.resolver.Forget(req.Key); err != nil {
			return Result{}, storeerr.Wrap(storeerr.CodeVaultError, "removing entry policy", err)
		}
		return Result{}, nil

	case VerbDeleteAll:
		if err := d.vault.DeleteAll(); err != nil {
			return Result{}, vaultError(err)
		}
		if err := d.resolver.ForgetAll(); err != nil {
			return Result{}, storeerr.Wrap(storeerr.CodeVaultError, "removing entry policies", err)
		}
		d.logger.Info("all secrets deleted", "policy", p.need.Policy)
		return Result{}, nil

	case VerbContainsKey:
		ok, err := d.vault.Has(req.Key)
		if err != nil {
			return Result{}, vaultError(err)
		}
		return Result{Bool: ok}, nil

	case VerbAuthenticate:
		return Result{Outcome: presence.Authenticated}, nil
	}
	return Result{}, storeerr.Newf(storeerr.CodeInvalidArgument, "unsupported verb %s", req.Verb)
}

func defaultReason(req Request) string {
	switch req.Verb {
	case VerbRead:
		return fmt.Sprintf("Access %q", req.Key)
	case VerbWrite:
		return fmt.Sprintf("Update %q", req.Key)
	case VerbDelete:
		return fmt.Sprintf("Delete %q", req.Key)
	case VerbDeleteAll:
		return "Delete all stored secrets"
	}
	return "Verify your identity"
}

// Read returns the value stored under key.
func (d *Dispatcher) Read(ctx context.Context, key string) ([]byte, error) {
	res, err := d.Submit(Request{Verb: VerbRead, Key: key}).Wait(ctx)
	return res.Value, err
}

// Write stores value under key, attaching pol to the entry.
func (d *Dispatcher) Write(ctx context.Context, key string, value []byte, access keychain.Accessibility, pol policy.Policy) error {
	_, err := d.Submit(Request{Verb: VerbWrite, Key: key, Value: value, Accessibility: access, Policy: pol}).Wait(ctx)
	return err
}

// Delete removes key. Deleting an absent key succeeds.
func (d *Dispatcher) Delete(ctx context.Context, key string) error {
	_, err := d.Submit(Request{Verb: VerbDelete, Key: key}).Wait(ctx)
	return err
}

// DeleteAll removes every entry in the store.
func (d *Dispatcher) DeleteAll(ctx context.Context) error {
	_, err := d.Submit(Request{Verb: VerbDeleteAll}).Wait(ctx)
	return err
}

// ContainsKey reports whether key exists. It never requires a ceremony.
func (d *Dispatcher) ContainsKey(ctx context.Context, key string) (bool, error) {
	res, err := d.Submit(Request{Verb: VerbContainsKey, Key: key}).Wait(ctx)
	return res.Bool, err
}

// CanAuthenticate reports whether a ceremony for pol could succeed now.
func (d *Dispatcher) CanAuthenticate(pol policy.Policy) (bool, error) {
	res, err := d.Submit(Request{Verb: VerbCanAuthenticate, Policy: pol}).Wait(context.Background())
	return res.Bool, err
}

// Authenticate runs a standalone ceremony and returns its outcome.
func (d *Dispatcher) Authenticate(ctx context.Context, pol policy.Policy, reason string) (presence.Outcome, error) {
	res, err := d.Submit(Request{Verb: VerbAuthenticate, Policy: pol, Reason: reason}).Wait(ctx)
	return res.Outcome, err
}
