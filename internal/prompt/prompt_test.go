package prompt

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/crypto/bcrypt"

	"github.com/benaskins/aegis/internal/policy"
	"github.com/benaskins/aegis/internal/presence"
)

func testHash(t *testing.T, passcode string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func typeString(m *model, s string) {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

// submit presses enter and feeds the verification result back.
func submit(t *testing.T, m *model) tea.Cmd {
	t.Helper()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected enter to start verification")
	}
	_, cmd = m.Update(cmd())
	return cmd
}

func TestHashAndVerify(t *testing.T) {
	if _, err := HashPasscode("12"); err == nil {
		t.Error("expected short passcode to be rejected")
	}

	hash, err := HashPasscode("2468")
	if err != nil {
		t.Fatalf("HashPasscode: %v", err)
	}
	if !VerifyPasscode(hash, "2468") {
		t.Error("expected passcode to verify")
	}
	if VerifyPasscode(hash, "1357") {
		t.Error("expected wrong passcode to fail")
	}
	if VerifyPasscode("not-a-hash", "2468") {
		t.Error("expected malformed hash to fail")
	}
}

func TestModelCorrectPasscode(t *testing.T) {
	hash := testHash(t, "2468")
	m := newModel(presence.Challenge{Policy: policy.PasscodeOrBiometric}, func(s string) bool { return VerifyPasscode(hash, s) }, 3)

	typeString(m, "2468")
	if m.input.Value() != "2468" {
		t.Fatalf("expected input to hold the typed passcode, got %q", m.input.Value())
	}
	if cmd := submit(t, m); cmd == nil {
		t.Error("expected the program to quit after success")
	}
	if m.outcome != presence.Authenticated {
		t.Errorf("expected authenticated, got %q", m.outcome)
	}
}

func TestModelAttemptLimit(t *testing.T) {
	m := newModel(presence.Challenge{}, func(string) bool { return false }, 3)

	for i := 0; i < 2; i++ {
		typeString(m, "0000")
		submit(t, m)
		if m.outcome != "" {
			t.Fatalf("attempt %d: resolved early with %q", i+1, m.outcome)
		}
		if m.input.Value() != "" {
			t.Errorf("attempt %d: expected input to be cleared", i+1)
		}
		if !strings.Contains(m.errMsg, "Incorrect passcode") {
			t.Errorf("attempt %d: expected error message, got %q", i+1, m.errMsg)
		}
	}

	typeString(m, "0000")
	submit(t, m)
	if m.outcome != presence.Failed {
		t.Errorf("expected failed after three attempts, got %q", m.outcome)
	}
}

func TestModelEscapeCancels(t *testing.T) {
	m := newModel(presence.Challenge{}, func(string) bool { return true }, 3)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("expected esc to quit")
	}
	if m.outcome != presence.UserCanceled {
		t.Errorf("expected user_canceled, got %q", m.outcome)
	}
}

func TestModelIgnoresEmptySubmit(t *testing.T) {
	m := newModel(presence.Challenge{}, func(string) bool { return true }, 3)

	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("expected empty submit to be ignored")
	}
	if m.remaining != 3 {
		t.Errorf("empty submit must not consume an attempt, remaining %d", m.remaining)
	}
}

func TestModelViewShowsReason(t *testing.T) {
	m := newModel(presence.Challenge{Reason: `Access "token"`, Policy: policy.BiometricAny}, func(string) bool { return true }, 3)

	view := m.View()
	if !strings.Contains(view, `Access "token"`) {
		t.Errorf("expected reason in view:\n%s", view)
	}
	if !strings.Contains(view, "Authentication required") {
		t.Errorf("expected title in view:\n%s", view)
	}
}

func TestPresentWithoutPasscode(t *testing.T) {
	term := NewTerminal("")
	if got := term.Present(context.Background(), presence.Challenge{}); got != presence.NotAvailable {
		t.Errorf("expected not_available without a passcode, got %q", got)
	}
}
