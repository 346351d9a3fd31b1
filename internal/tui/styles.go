package tui

import "github.com/charmbracelet/lipgloss"

// Palette
var (
	Primary = lipgloss.Color("#2E7D32")
	Accent  = lipgloss.Color("#F9A825")
	Muted   = lipgloss.Color("#8A8A8A")
	Danger  = lipgloss.Color("#C62828")
)

// Styles holds the lipgloss styles the login screens render with.
type Styles struct {
	Header  lipgloss.Style
	Title   lipgloss.Style
	Body    lipgloss.Style
	Muted   lipgloss.Style
	Prompt  lipgloss.Style
	Spinner lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Notice  lipgloss.Style
	Footer  lipgloss.Style
	Card    lipgloss.Style
}

// DefaultStyles returns the standard AgriConnect styles.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Background(Primary).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Bold(true),
		Title: lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true).
			MarginBottom(1),
		Body:    lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(Muted),
		Prompt:  lipgloss.NewStyle().Foreground(Accent).Bold(true),
		Spinner: lipgloss.NewStyle().Foreground(Accent),
		Error:   lipgloss.NewStyle().Foreground(Danger).Bold(true),
		Success: lipgloss.NewStyle().Foreground(Primary).Bold(true),
		Notice: lipgloss.NewStyle().
			Foreground(Muted).
			Italic(true),
		Footer: lipgloss.NewStyle().
			Foreground(Muted).
			MarginTop(1),
		Card: lipgloss.NewStyle().
			Padding(1, 2).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(Primary),
	}
}
