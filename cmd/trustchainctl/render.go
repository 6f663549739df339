package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"
)

var (
	colorAccent = lipgloss.Color("12")
	colorPass   = lipgloss.Color("10")
	colorWarn   = lipgloss.Color("11")
	colorFail   = lipgloss.Color("9")
	colorMuted  = lipgloss.Color("8")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	passStyle   = lipgloss.NewStyle().Foreground(colorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(colorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	borderStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

// isTerminal reports whether stdout is attached to a TTY; colorized
// output is skipped when it isn't, so a redirected or piped run stays
// machine-parseable.
func isTerminal() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func newReportTable() *table.Table {
	t := table.New().Border(lipgloss.RoundedBorder())
	if isTerminal() {
		t = t.BorderStyle(borderStyle)
	} else {
		t = t.BorderStyle(lipgloss.NewStyle())
	}
	return t
}

func renderLabel(s string) string {
	if !isTerminal() {
		return s
	}
	return headerStyle.Render(s)
}

// renderIntegrityMode highlights a centralized chain in warnStyle: it
// trusts the server's own signature instead of verifying each peer's
// root key, a weaker guarantee worth calling out.
func renderIntegrityMode(mode string) string {
	if !isTerminal() {
		return mode
	}
	if mode == "centralized" {
		return warnStyle.Render(mode)
	}
	return passStyle.Render(mode)
}

func renderMuted(s string) string {
	if !isTerminal() {
		return s
	}
	return mutedStyle.Render(s)
}

func renderFail(s string) string {
	if !isTerminal() {
		return s
	}
	return failStyle.Render(s)
}
