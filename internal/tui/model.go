// Package tui is the terminal login screen. It renders an authflow.Controller with bubbletea and moves to a
// dashboard shell once the controller navigates there.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/akshithakatte/AgriConnect/internal/authflow"
)

// resultMsg is sent when a controller call settles.
type resultMsg struct {
	err   error
	route string
}

// Model is the bubbletea model of the login flow.
type Model struct {
	ctx    context.Context
	ctrl   *authflow.Controller
	routes chan string

	input   textinput.Model
	spinner spinner.Model
	styles  Styles

	route    string
	width    int
	quitting bool
}

// New returns a model that logs in against api.
func New(ctx context.Context, api authflow.API, log *zap.Logger) Model {
	routes := make(chan string, 1)
	nav := authflow.NavigatorFunc(func(route string) {
		select {
		case routes <- route:
		default:
		}
	})
	styles := DefaultStyles()

	ti := textinput.New()
	ti.Prompt = "│ "
	ti.PromptStyle = styles.Prompt
	ti.Width = 32
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	m := Model{
		ctx:     ctx,
		ctrl:    authflow.New(api, nav, authflow.WithLogger(log)),
		routes:  routes,
		input:   ti,
		spinner: sp,
		styles:  styles,
	}
	m.preparePhoneInput("")
	return m
}

// Session returns the issued session once the user is authenticated, else nil.
func (m Model) Session() *authflow.Session {
	return m.ctrl.Snapshot().Session
}

// Route is the route the controller navigated to, empty before login.
func (m Model) Route() string { return m.route }

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case resultMsg:
		if msg.route != "" {
			m.route = msg.route
		}
		m.syncInput()
		return m, nil

	case spinner.TickMsg:
		if !m.ctrl.Snapshot().Pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	snap := m.ctrl.Snapshot()
	switch msg.Type {
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	}

	if m.route != "" {
		if msg.String() == "q" || msg.Type == tea.KeyEnter || msg.Type == tea.KeyEsc {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.Type {
	case tea.KeyEnter:
		if snap.Pending {
			return m, nil
		}
		value := m.input.Value()
		if snap.Phase == authflow.PhasePhoneEntry {
			return m, tea.Batch(m.submit(func(ctx context.Context) error { return m.ctrl.SubmitPhone(ctx, value) }), m.spinner.Tick)
		}
		return m, tea.Batch(m.submit(func(ctx context.Context) error { return m.ctrl.SubmitOTP(ctx, value) }), m.spinner.Tick)

	case tea.KeyCtrlR:
		if snap.Phase != authflow.PhaseOTPEntry || snap.Pending {
			return m, nil
		}
		m.input.Reset()
		return m, tea.Batch(m.submit(m.ctrl.Resend), m.spinner.Tick)

	case tea.KeyEsc:
		if snap.Phase == authflow.PhaseOTPEntry {
			m.ctrl.ChangePhone()
			m.preparePhoneInput(snap.PhoneNumber)
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit runs call off the update loop and reports the outcome as a resultMsg.
func (m Model) submit(call func(context.Context) error) tea.Cmd {
	ctx, routes := m.ctx, m.routes
	return func() tea.Msg {
		err := call(ctx)
		res := resultMsg{err: err}
		select {
		case res.route = <-routes:
		default:
		}
		return res
	}
}

// syncInput points the text input at the controller's current phase.
func (m *Model) syncInput() {
	snap := m.ctrl.Snapshot()
	switch snap.Phase {
	case authflow.PhasePhoneEntry:
		if m.input.Placeholder != phonePlaceholder {
			m.preparePhoneInput(snap.PhoneNumber)
		}
	case authflow.PhaseOTPEntry:
		if m.input.Placeholder != otpPlaceholder {
			m.input.Reset()
			m.input.Placeholder = otpPlaceholder
			m.input.CharLimit = 6
			m.input.EchoMode = textinput.EchoNormal
		}
	case authflow.PhaseAuthenticated:
		m.input.Blur()
	}
}

const (
	phonePlaceholder = "+91 98765 43210"
	otpPlaceholder   = "6-digit code"
)

func (m *Model) preparePhoneInput(phone string) {
	m.input.Placeholder = phonePlaceholder
	m.input.CharLimit = 20
	m.input.SetValue(phone)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.styles.Header.Render("AgriConnect"))
	b.WriteString("\n\n")

	snap := m.ctrl.Snapshot()
	if m.route != "" {
		b.WriteString(m.dashboardView(snap))
		return b.String()
	}

	switch snap.Phase {
	case authflow.PhasePhoneEntry:
		b.WriteString(m.styles.Title.Render("Sign in with your phone"))
		b.WriteString("\n")
		b.WriteString(m.styles.Body.Render("Phone number"))
		b.WriteString("\n")
	case authflow.PhaseOTPEntry:
		b.WriteString(m.styles.Title.Render("Enter verification code"))
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render("Code sent to " + snap.PhoneNumber))
		b.WriteString("\n")
		if snap.Notice != "" {
			b.WriteString(m.styles.Notice.Render(snap.Notice))
			b.WriteString("\n")
		}
		if snap.DevOTP != "" {
			b.WriteString(m.styles.Notice.Render("Dev code: " + snap.DevOTP))
			b.WriteString("\n")
		}
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")

	if snap.Pending {
		b.WriteString(m.spinner.View() + " " + m.styles.Muted.Render(pendingLabel(snap.Phase)))
		b.WriteString("\n")
	} else if snap.Err != nil {
		b.WriteString(m.styles.Error.Render(authflow.Message(snap.Err)))
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Footer.Render(footer(snap.Phase)))
	return b.String()
}

func (m Model) dashboardView(snap authflow.Snapshot) string {
	var b strings.Builder
	b.WriteString(m.styles.Success.Render("Signed in"))
	b.WriteString("\n\n")
	card := fmt.Sprintf("Phone: %s", snap.PhoneNumber)
	if s := snap.Session; s != nil {
		card += fmt.Sprintf("\nRole:  %s\nUser:  %s", s.Role, s.UserID)
		if !s.ExpiresAt.IsZero() {
			card += "\nAccess expires " + s.ExpiresAt.Local().Format("2006-01-02 15:04")
		}
	}
	b.WriteString(m.styles.Card.Render(card))
	b.WriteString("\n")
	b.WriteString(m.styles.Footer.Render("enter/q to exit"))
	return b.String()
}

func pendingLabel(p authflow.Phase) string {
	if p == authflow.PhaseOTPEntry {
		return "Verifying..."
	}
	return "Sending code..."
}

func footer(p authflow.Phase) string {
	if p == authflow.PhaseOTPEntry {
		return "enter verify • ctrl+r resend • esc change number • ctrl+c quit"
	}
	return "enter send code • esc quit"
}

// Run shows the login screen until the user signs in or quits. It returns the session, or nil when the user
// quit before signing in.
func Run(ctx context.Context, api authflow.API, log *zap.Logger) (*authflow.Session, error) {
	final, err := tea.NewProgram(New(ctx, api, log), tea.WithContext(ctx)).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return nil, err
	}
	m, ok := final.(Model)
	if !ok {
		return nil, nil
	}
	return m.Session(), nil
}
