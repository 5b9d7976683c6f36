// Package tui provides the interactive account picker shown when codexm
// runs on a terminal without a subcommand. It uses Bubble Tea, Bubbles and
// Lipgloss from Charm.
package tui
