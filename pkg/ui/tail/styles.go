package tail

import "github.com/charmbracelet/lipgloss"

// theme groups reusable styles for stream output.
type theme struct {
	timestamp   lipgloss.Style
	newMessage  lipgloss.Style
	botResponse lipgloss.Style
	connected   lipgloss.Style
	contact     lipgloss.Style
	text        lipgloss.Style
	status      lipgloss.Style
	statusErr   lipgloss.Style
}

// defaultTheme mirrors the retro terminal palette of the chat UI.
func defaultTheme() theme {
	return theme{
		timestamp: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		newMessage: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("214")).
			Padding(0, 1),
		botResponse: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("44")).
			Padding(0, 1),
		connected: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("114")).
			Padding(0, 1),
		contact: lipgloss.NewStyle().
			Foreground(lipgloss.Color("223")),
		text: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Bold(true),
		statusErr: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
	}
}
