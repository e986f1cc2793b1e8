package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ernie/gamehost/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Bold(true).
			Padding(0, 1)

	statsStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	modalStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("205")).
			Padding(1, 2)

	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)
	descStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	liveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	toastSuccessStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("230")).
				Background(lipgloss.Color("28")).
				Padding(0, 1)

	toastErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("124")).
			Padding(0, 1)
)

var badgeColors = map[domain.CommandStatus]lipgloss.Color{
	domain.StatusPending:    "220",
	domain.StatusProcessing: "39",
	domain.StatusCompleted:  "42",
	domain.StatusFailed:     "196",
	domain.StatusCancelled:  "245",
}

// badge renders a status label; statuses outside the known set render as "unknown"
func badge(s domain.CommandStatus) string {
	color, ok := badgeColors[s]
	if !ok {
		color = "205"
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Width(10).Render(s.Label())
}
