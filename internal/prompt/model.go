package prompt

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/benaskins/aegis/internal/policy"
	"github.com/benaskins/aegis/internal/presence"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	reasonStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// verifiedMsg carries the result of checking one attempt.
type verifiedMsg struct {
	ok bool
}

// model is the passcode challenge screen.
type model struct {
	challenge presence.Challenge
	input     textinput.Model
	verify    func(string) bool
	remaining int
	checking  bool
	errMsg    string
	outcome   presence.Outcome
}

func newModel(ch presence.Challenge, verify func(string) bool, attempts int) *model {
	in := textinput.New()
	in.Placeholder = "passcode"
	in.Prompt = "> "
	in.CharLimit = 128
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'
	in.Focus()

	return &model{
		challenge: ch,
		input:     in,
		verify:    verify,
		remaining: attempts,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case verifiedMsg:
		m.checking = false
		if msg.ok {
			m.outcome = presence.Authenticated
			return m, tea.Quit
		}
		m.remaining--
		if m.remaining <= 0 {
			m.outcome = presence.Failed
			return m, tea.Quit
		}
		m.errMsg = fmt.Sprintf("Incorrect passcode. %d %s left.", m.remaining, plural(m.remaining, "attempt", "attempts"))
		m.input.Reset()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEsc, tea.KeyCtrlC:
			m.outcome = presence.UserCanceled
			return m, tea.Quit
		case tea.KeyEnter:
			if m.checking || m.input.Value() == "" {
				return m, nil
			}
			m.checking = true
			m.errMsg = ""
			attempt := m.input.Value()
			verify := m.verify
			return m, func() tea.Msg {
				return verifiedMsg{ok: verify(attempt)}
			}
		}
	}

	if m.checking {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) View() string {
	if m.outcome != "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Authentication required"))
	b.WriteString("\n")
	if m.challenge.Reason != "" {
		b.WriteString(reasonStyle.Render(m.challenge.Reason))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(policyLabel(m.challenge.Policy)))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	if m.checking {
		b.WriteString("\n\nVerifying...")
	}
	if m.errMsg != "" {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(m.errMsg))
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter: confirm │ esc: cancel"))
	return boxStyle.Render(b.String()) + "\n"
}

func policyLabel(p policy.Policy) string {
	switch p {
	case policy.BiometricAny:
		return "Biometric confirmation (passcode on this host)"
	case policy.BiometricCurrentSet:
		return "Biometric confirmation, current enrollment (passcode on this host)"
	}
	return "Enter your passcode"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
