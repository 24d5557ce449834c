// Package tui renders mailtracker output for the terminal and holds the
// interactive forms used by setup and add-imap.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	numberStyle = cellStyle.Align(lipgloss.Right)

	unreadStyle = numberStyle.Foreground(lipgloss.Color("214"))

	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)
