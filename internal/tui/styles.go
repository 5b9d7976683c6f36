package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	colorBlue     = lipgloss.Color("#4f8cff")
	colorGreen    = lipgloss.Color("#2fd576")
	colorYellow   = lipgloss.Color("#f2c94c")
	colorRed      = lipgloss.Color("#ff6b6b")
	colorWhite    = lipgloss.Color("#e6edf3")
	colorGray     = lipgloss.Color("#9aa4b2")
	colorDarkGray = lipgloss.Color("#1f2937")
)

// Styles holds the lipgloss styles for the TUI.
type Styles struct {
	Header lipgloss.Style
	Border lipgloss.Style

	// Table
	ColumnHeader lipgloss.Style
	Row          lipgloss.Style
	SelectedRow  lipgloss.Style
	Active       lipgloss.Style
	Plan         lipgloss.Style

	// Usage levels
	UsageOK   lipgloss.Style
	UsageLow  lipgloss.Style
	UsageNone lipgloss.Style

	StatusBar  lipgloss.Style
	StatusKey  lipgloss.Style
	StatusText lipgloss.Style
	StatusErr  lipgloss.Style

	Empty lipgloss.Style
	Help  lipgloss.Style
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			MarginBottom(1),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDarkGray).
			Padding(0, 1),

		ColumnHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorGray).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorDarkGray),

		Row: lipgloss.NewStyle().
			Foreground(colorWhite),

		SelectedRow: lipgloss.NewStyle().
			Foreground(colorWhite).
			Bold(true).
			Background(colorDarkGray),

		Active: lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true),

		Plan: lipgloss.NewStyle().
			Foreground(colorBlue),

		UsageOK:   lipgloss.NewStyle().Foreground(colorGreen),
		UsageLow:  lipgloss.NewStyle().Foreground(colorYellow),
		UsageNone: lipgloss.NewStyle().Foreground(colorRed),

		StatusBar: lipgloss.NewStyle().
			Padding(0, 1).
			Background(colorDarkGray).
			Foreground(colorWhite),

		StatusKey: lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true),

		StatusText: lipgloss.NewStyle().
			Foreground(colorGray),

		StatusErr: lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true),

		Empty: lipgloss.NewStyle().
			Foreground(colorGray).
			Italic(true).
			Padding(2, 2),

		Help: lipgloss.NewStyle().
			Padding(1, 2).
			Foreground(colorWhite),
	}
}

// UsageStyle picks a color for the smaller of the two remaining
// percentages.
func (s Styles) UsageStyle(percentLeft float64) lipgloss.Style {
	switch {
	case percentLeft <= 0:
		return s.UsageNone
	case percentLeft < 20:
		return s.UsageLow
	default:
		return s.UsageOK
	}
}
