// Package ui holds the terminal render helpers shared by the CLI commands.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle    = lipgloss.NewStyle().Faint(true)

	colorOK = termenv.DefaultOutput().ColorProfile() != termenv.Ascii
)

func render(style lipgloss.Style, s string) string {
	if !colorOK {
		return s
	}
	return style.Render(s)
}

// RenderPass renders success markers.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders warnings.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderError renders failures.
func RenderError(s string) string { return render(errorStyle, s) }

// RenderAccent renders highlighted values.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderDim renders secondary detail.
func RenderDim(s string) string { return render(dimStyle, s) }
