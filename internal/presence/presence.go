// Package presence owns the single in-flight authentication ceremony.
//
// A ceremony moves Idle → Evaluating → Presenting → Resolved → Idle. During
// Evaluating the device capability is checked for the requested policy; a
// capability failure resolves without presenting anything. Presenting is
// the only suspension point: it waits on a Prompter for an unbounded time,
// bounded only by the challenge timeout. Resolution yields exactly one
// Outcome, broadcast to everyone waiting on the ceremony.
package presence

import (
	"context"

	"github.com/benaskins/aegis/internal/policy"
)

// Outcome is the terminal result of a ceremony.
type Outcome string

const (
	Authenticated  Outcome = "authenticated"
	UserCanceled   Outcome = "user_canceled"
	SystemCanceled Outcome = "system_canceled"
	Failed         Outcome = "failed"
	Lockout        Outcome = "lockout"
	NotEnrolled    Outcome = "not_enrolled"
	NotAvailable   Outcome = "not_available"
)

// State is the authenticator's lifecycle state.
type State int

const (
	Idle State = iota
	Evaluating
	Presenting
	Resolved
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Evaluating:
		return "evaluating"
	case Presenting:
		return "presenting"
	case Resolved:
		return "resolved"
	}
	return "unknown"
}

// Biometry describes the device's biometric hardware state.
type Biometry string

const (
	BiometryNone        Biometry = "none"
	BiometryNotEnrolled Biometry = "not_enrolled"
	BiometryEnrolled    Biometry = "enrolled"
)

// Capability is a snapshot of what the device can prove.
type Capability struct {
	Biometry    Biometry
	PasscodeSet bool
	// Enrollment fingerprints the current biometric enrollment set.
	Enrollment string
}

// Device reports the current capability of the host.
type Device interface {
	Capability() Capability
}

// Challenge is what a Prompter is asked to present.
type Challenge struct {
	ID     string
	Policy policy.Policy
	Reason string
}

// Prompter presents a challenge to the user and blocks until it resolves.
// Implementations must return promptly once ctx is done; the returned
// outcome is then ignored.
type Prompter interface {
	Present(ctx context.Context, ch Challenge) Outcome
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, ch Challenge) Outcome

func (f PrompterFunc) Present(ctx context.Context, ch Challenge) Outcome {
	return f(ctx, ch)
}

// Evaluate checks whether c can satisfy p. It returns ok=false and the
// outcome to resolve with when it cannot.
func Evaluate(p policy.Policy, c Capability) (Outcome, bool) {
	if p.AllowsPasscode() {
		if c.PasscodeSet || c.Biometry == BiometryEnrolled {
			return "", true
		}
		return NotAvailable, false
	}
	switch c.Biometry {
	case BiometryEnrolled:
		return "", true
	case BiometryNotEnrolled:
		return NotEnrolled, false
	}
	return NotAvailable, false
}
