package tui

import "github.com/charmbracelet/lipgloss"

// Colors used throughout the view.
var (
	ColorRed    = lipgloss.Color("#E53935")
	ColorGreen  = lipgloss.Color("#36A64F")
	ColorYellow = lipgloss.Color("#FF9800")
	ColorCyan   = lipgloss.Color("#00BCD4")
	ColorGray   = lipgloss.Color("#666666")
	ColorWhite  = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	statusStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	runningDotStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	doneDotStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	barFullStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	barEmptyStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	noteStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			PaddingLeft(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Italic(true)
)
