package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Teal     = lipgloss.Color("#0d7377")
	OffWhite = lipgloss.Color("#f8f7f4")
	Gray     = lipgloss.Color("#888888")
	DarkGray = lipgloss.Color("#333333")
	Amber    = lipgloss.Color("#f0a500")
	Red      = lipgloss.Color("#e06c75")

	// Styles
	HeaderStyle = lipgloss.NewStyle().
			Background(Teal).
			Foreground(OffWhite).
			Bold(true).
			Padding(0, 1)

	ChatPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Teal).
			Padding(0, 1)

	InputBarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Teal).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(Gray).
			Padding(0, 1)

	UserMessageStyle = lipgloss.NewStyle().
				Foreground(OffWhite).
				Bold(true)

	AssistantMessageStyle = lipgloss.NewStyle().
				Foreground(Teal)

	ActiveMessageStyle = lipgloss.NewStyle().
				Foreground(Amber).
				Bold(true)

	ApologyStyle = lipgloss.NewStyle().
			Foreground(Red).
			Italic(true)

	ThinkingStyle = lipgloss.NewStyle().
			Foreground(Gray).
			Italic(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red)
)
