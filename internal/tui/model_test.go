package tui

import (
	"context"
	"sync"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/akshithakatte/AgriConnect/internal/authflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAPI struct {
	mu     sync.Mutex
	sends  []string
	code   string
	devOTP string
}

func (f *fakeAPI) SendOTP(_ context.Context, phone string) (*authflow.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, phone)
	return &authflow.SendResult{Message: "OTP sent successfully", DevOTP: f.devOTP}, nil
}

func (f *fakeAPI) VerifyOTP(_ context.Context, phone, code string) (*authflow.Session, error) {
	if code != f.code {
		return nil, &authflow.RejectedError{Op: authflow.OpVerifyOTP, Status: 401, Code: "invalid_otp", Detail: "invalid OTP"}
	}
	return &authflow.Session{AccessToken: "a", RefreshToken: "r", TokenType: "bearer", UserID: "u1", Role: "farmer"}, nil
}

func (f *fakeAPI) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// drive applies msg and then every message its commands produce, except spinner ticks.
func drive(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	for _, out := range run(cmd) {
		next, _ = m.Update(out)
		m = next.(Model)
	}
	return m
}

func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	switch msg := msg.(type) {
	case tea.BatchMsg:
		var out []tea.Msg
		for _, c := range msg {
			out = append(out, run(c)...)
		}
		return out
	case spinner.TickMsg, nil:
		return nil
	}
	return []tea.Msg{msg}
}

// typeText appends s to the input. Keystrokes would start cursor blink timers, so the value is set directly.
func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	m.input.SetValue(m.input.Value() + s)
	return m
}

func enter() tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyEnter} }

func TestLoginFlow(t *testing.T) {
	api := &fakeAPI{code: "123456", devOTP: "123456"}
	m := New(context.Background(), api, zap.NewNop())

	assert.Contains(t, m.View(), "Sign in with your phone")

	m = typeText(t, m, "+919876543210")
	m = drive(t, m, enter())
	require.Equal(t, 1, api.sendCount())
	assert.Equal(t, authflow.PhaseOTPEntry, m.ctrl.Snapshot().Phase)
	view := m.View()
	assert.Contains(t, view, "Enter verification code")
	assert.Contains(t, view, "Dev code: 123456")
	assert.Empty(t, m.input.Value())

	m = typeText(t, m, "000000")
	m = drive(t, m, enter())
	assert.Equal(t, authflow.PhaseOTPEntry, m.ctrl.Snapshot().Phase)
	assert.Contains(t, m.View(), "That code is not correct")
	assert.Empty(t, m.Route())

	m.input.Reset()
	m = typeText(t, m, "123456")
	m = drive(t, m, enter())
	assert.Equal(t, authflow.DashboardRoute, m.Route())
	assert.Contains(t, m.View(), "Signed in")
	assert.Contains(t, m.View(), "farmer")
	require.NotNil(t, m.Session())
	assert.Equal(t, "a", m.Session().AccessToken)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.Equal(t, "", next.(Model).View())
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestEmptyPhoneSendsNothing(t *testing.T) {
	api := &fakeAPI{}
	m := New(context.Background(), api, nil)

	m = drive(t, m, enter())
	assert.Zero(t, api.sendCount())
	assert.Equal(t, authflow.PhasePhoneEntry, m.ctrl.Snapshot().Phase)
	assert.Contains(t, m.View(), "Enter a valid phone number")
}

func TestChangePhoneKeepsNumber(t *testing.T) {
	api := &fakeAPI{code: "123456"}
	m := New(context.Background(), api, nil)
	m = typeText(t, m, "+919876543210")
	m = drive(t, m, enter())
	require.Equal(t, authflow.PhaseOTPEntry, m.ctrl.Snapshot().Phase)

	m = typeText(t, m, "12")
	m = drive(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	snap := m.ctrl.Snapshot()
	assert.Equal(t, authflow.PhasePhoneEntry, snap.Phase)
	assert.Empty(t, snap.OTP)
	assert.Equal(t, "+919876543210", m.input.Value())
}

func TestResend(t *testing.T) {
	api := &fakeAPI{code: "123456"}
	m := New(context.Background(), api, nil)
	m = typeText(t, m, "+919876543210")
	m = drive(t, m, enter())

	m = drive(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Equal(t, 2, api.sendCount())
	assert.Equal(t, authflow.PhaseOTPEntry, m.ctrl.Snapshot().Phase)
}

func TestResendIgnoredOnPhoneEntry(t *testing.T) {
	api := &fakeAPI{}
	m := New(context.Background(), api, nil)
	m = drive(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Zero(t, api.sendCount())
}

func TestCtrlCQuits(t *testing.T) {
	m := New(context.Background(), &fakeAPI{}, nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
