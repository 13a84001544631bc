package dispatch

import (
	"context"
	"fmt"

	"github.com/benaskins/aegis/internal/keychain"
	"github.com/benaskins/aegis/internal/policy"
	"github.com/benaskins/aegis/internal/presence"
	"github.com/benaskins/aegis/internal/storeerr"
)

// Verb is a storage operation. The set is closed.
type Verb int

const (
	VerbRead Verb = iota + 1
	VerbWrite
	VerbDelete
	VerbDeleteAll
	VerbContainsKey
	VerbCanAuthenticate
	VerbAuthenticate
)

func (v Verb) String() string {
	switch v {
	case VerbRead:
		return "read"
	case VerbWrite:
		return "write"
	case VerbDelete:
		return "delete"
	case VerbDeleteAll:
		return "deleteAll"
	case VerbContainsKey:
		return "containsKey"
	case VerbCanAuthenticate:
		return "canAuthenticate"
	case VerbAuthenticate:
		return "authenticate"
	}
	return fmt.Sprintf("verb(%d)", int(v))
}

// Request is one storage operation.
type Request struct {
	Verb          Verb
	Key           string
	Value         []byte
	Accessibility keychain.Accessibility
	// Policy is attached to the entry on VerbWrite and names the ceremony
	// policy for VerbAuthenticate and VerbCanAuthenticate.
	Policy policy.Policy
	// Reason is shown to the user if a ceremony is presented.
	Reason string
}

// Result is the success payload of a request.
type Result struct {
	Value   []byte
	Bool    bool
	Outcome presence.Outcome
}

type pendingState int

const (
	stateQueued pendingState = iota
	stateDispatched
	stateFinished
)

// Pending is a request that has been submitted to a Dispatcher. It resolves
// exactly once, with a result or an error.
type Pending struct {
	d    *Dispatcher
	req  Request
	need policy.Requirement

	// guarded by d.mu
	state pendingState

	done   chan struct{}
	result Result
	err    error
}

// Done is closed once the request has resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the outcome. It must only be called after Done is closed.
func (p *Pending) Result() (Result, error) { return p.result, p.err }

// Wait blocks until the request resolves. If ctx ends first the request is
// canceled when it has not yet reached the vault; otherwise Wait keeps
// waiting for the in-flight vault operation to finish.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		if p.Cancel() {
			return Result{}, storeerr.Wrap(storeerr.CodeRequestCanceled, "", ctx.Err())
		}
		<-p.done
		return p.result, p.err
	}
}

// Cancel withdraws the request while it is still waiting on a ceremony.
// It reports false once the request has been dispatched to the vault or
// has resolved.
func (p *Pending) Cancel() bool {
	return p.d.cancel(p)
}

func (p *Pending) finish(res Result, err error) {
	p.result = res
	p.err = err
	close(p.done)
}
