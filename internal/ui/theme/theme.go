package theme

import (
	"charm.land/lipgloss/v2"
)

// Palette: calm, readable on dark terminals
var (
	Primary = lipgloss.Color("#6366F1") // Indigo
	Tutor   = lipgloss.Color("#14B8A6") // Teal
	Accent  = lipgloss.Color("#F59E0B") // Amber
	Success = lipgloss.Color("#22C55E") // Green
	Error   = lipgloss.Color("#F43F5E") // Rose
	Text    = lipgloss.Color("#F8FAFC") // White
	TextDim = lipgloss.Color("#94A3B8") // Slate
	BgCard  = lipgloss.Color("#1E293B") // Dark Slate
	Border  = lipgloss.Color("#334155") // Slate
)

// Transcript
var (
	TutorName = lipgloss.NewStyle().
			Foreground(Tutor).
			Bold(true)

	LearnerName = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	Body = lipgloss.NewStyle().
		Foreground(Text)

	Hint = lipgloss.NewStyle().
		Foreground(TextDim).
		Italic(true)

	Warning = lipgloss.NewStyle().
		Foreground(Accent)

	Failure = lipgloss.NewStyle().
		Foreground(Error).
		Bold(true)
)

// Chrome
var (
	Bar = lipgloss.NewStyle().
		Background(BgCard).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Border)

	Brand = lipgloss.NewStyle().
		Foreground(Primary).
		Bold(true)
)

// Engagement bar
var (
	BarFilled = lipgloss.NewStyle().
			Background(Success)

	BarPending = lipgloss.NewStyle().
			Background(Tutor)

	BarEmpty = lipgloss.NewStyle().
			Background(Border)
)
