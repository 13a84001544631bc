package storeerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Newf(CodeNotFound, "missing %q", "token")
	if !errors.Is(err, NotFound) {
		t.Error("expected errors.Is to match NotFound by code")
	}
	if errors.Is(err, VaultError) {
		t.Error("did not expect a not_found error to match VaultError")
	}
}

func TestIsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("reading: %w", New(CodeAuthenticationFailed, ""))
	if !errors.Is(err, AuthenticationFailed) {
		t.Error("expected wrapped error to match AuthenticationFailed")
	}
}

func TestFromUntypedIsVaultError(t *testing.T) {
	cause := errors.New("disk on fire")
	e := From(cause)
	if e.Code != CodeVaultError {
		t.Errorf("expected vault_error, got %q", e.Code)
	}
	if !errors.Is(e, cause) {
		t.Error("expected cause to remain in the chain")
	}
	if strings.Contains(e.ClientMessage(), "disk on fire") {
		t.Error("client message must not expose the raw cause")
	}
}

func TestFromKeepsTypedError(t *testing.T) {
	orig := New(CodeBiometryLockout, "locked")
	if got := From(fmt.Errorf("x: %w", orig)); got != orig {
		t.Errorf("expected the original *Error, got %v", got)
	}
	if From(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestWithDetailCopies(t *testing.T) {
	base := New(CodeAuthenticationCanceled, "")
	a := base.WithDetail("reason", "user")
	b := base.WithDetail("reason", "system")

	if base.Details != nil {
		t.Error("WithDetail must not mutate the receiver")
	}
	if a.Details["reason"] != "user" || b.Details["reason"] != "system" {
		t.Errorf("unexpected details: %v %v", a.Details, b.Details)
	}
}

func TestClientMessageDefaults(t *testing.T) {
	if got := New(CodeUnknownMethod, "").ClientMessage(); got != DefaultMessage(CodeUnknownMethod) {
		t.Errorf("expected default message, got %q", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("expected empty code for nil, got %q", got)
	}
}
