package main

import "github.com/charmbracelet/lipgloss"

// Dark terminal palette.
var (
	colorPrimary = lipgloss.Color("#FF6B35")
	colorAccent  = lipgloss.Color("#1E88E5")
	colorGood    = lipgloss.Color("#4CAF50")
	colorWarn    = lipgloss.Color("#FFB74D")
	colorBad     = lipgloss.Color("#F44336")
	colorBright  = lipgloss.Color("#FFFFFF")
	colorMuted   = lipgloss.Color("#90A4AE")
	colorBorder  = lipgloss.Color("#30363D")
	colorHeader  = lipgloss.Color("#1C2128")
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorBright).
			Background(colorHeader).
			Bold(true).
			Align(lipgloss.Center).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorBright).
			Bold(true)

	goodStyle = lipgloss.NewStyle().
			Foreground(colorGood).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorWarn).
			Bold(true)

	badStyle = lipgloss.NewStyle().
			Foreground(colorBad).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)
)

// countStyle colors a counter that should stay at zero.
func countStyle(n uint64) lipgloss.Style {
	switch {
	case n == 0:
		return mutedStyle
	case n < 10:
		return warnStyle
	default:
		return badStyle
	}
}
