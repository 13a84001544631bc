// Package prompt presents authentication challenges on a terminal.
//
// The host has no native biometric sensor, so every policy is satisfied by
// the configured passcode. Each ceremony allows a limited number of
// attempts before resolving as failed.
package prompt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/benaskins/aegis/internal/presence"
)

// DefaultAttempts is the number of passcode entries allowed per ceremony.
const DefaultAttempts = 3

// Terminal is a presence.Prompter that asks for the passcode on a TTY.
type Terminal struct {
	hash     string
	attempts int
	in       io.Reader
	out      io.Writer
	logger   *slog.Logger
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithAttempts sets the attempts allowed per ceremony.
func WithAttempts(n int) Option {
	return func(t *Terminal) {
		if n > 0 {
			t.attempts = n
		}
	}
}

// WithIO reads keys from in and renders to out instead of /dev/tty.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(t *Terminal) {
		t.in = in
		t.out = out
	}
}

// NewTerminal creates a prompter verifying against the bcrypt passcodeHash.
func NewTerminal(passcodeHash string, opts ...Option) *Terminal {
	t := &Terminal{
		hash:     passcodeHash,
		attempts: DefaultAttempts,
		logger:   slog.With("component", "prompt"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Present runs one challenge. It returns NotAvailable when no passcode is
// configured or no terminal can be opened.
func (t *Terminal) Present(ctx context.Context, ch presence.Challenge) presence.Outcome {
	if t.hash == "" {
		return presence.NotAvailable
	}

	in, out := t.in, t.out
	if in == nil || out == nil {
		tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
		if err != nil {
			t.logger.Warn("no terminal for passcode prompt", "ceremony", ch.ID, "error", err)
			return presence.NotAvailable
		}
		defer tty.Close()
		in, out = tty, tty
	}

	hash := t.hash
	m := newModel(ch, func(s string) bool { return VerifyPasscode(hash, s) }, t.attempts)
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		if !errors.Is(err, tea.ErrProgramKilled) && ctx.Err() == nil {
			t.logger.Error("passcode prompt failed", "ceremony", ch.ID, "error", err)
		}
		return presence.Failed
	}
	if fm, ok := final.(*model); ok && fm.outcome != "" {
		return fm.outcome
	}
	return presence.Failed
}
