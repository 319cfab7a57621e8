// Package ui provides terminal output styling for the satchel CLI.
package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorAccent  = lipgloss.Color("#8B5CF6") // violet, the satchel brand color
	ColorSuccess = lipgloss.Color("#34D399")
	ColorWarning = lipgloss.Color("#FBBF24")
	ColorError   = lipgloss.Color("#F87171")
	ColorMuted   = lipgloss.Color("#6B7280")
)

// Styles holds the pre-configured lipgloss styles used across commands.
var Styles = struct {
	Title   lipgloss.Style
	Accent  lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Done    lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Accent:  lipgloss.NewStyle().Foreground(ColorAccent),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Done:    lipgloss.NewStyle().Foreground(ColorMuted).Strikethrough(true),
}

// Pass prints a success line with a check mark.
func Pass(format string, args ...any) {
	fmt.Println(Styles.Success.Render("✓ ") + fmt.Sprintf(format, args...))
}

// Warn prints a warning line to stderr.
func Warn(format string, args ...any) {
	fmt.Fprintln(os.Stderr, Styles.Warning.Render("⚠ ")+fmt.Sprintf(format, args...))
}

// Fail prints an error line to stderr.
func Fail(format string, args ...any) {
	fmt.Fprintln(os.Stderr, Styles.Error.Render("✗ ")+fmt.Sprintf(format, args...))
}

// StatusIcon returns the styled list glyph for an item status.
func StatusIcon(status string) string {
	switch status {
	case "done":
		return Styles.Success.Render("✓")
	case "archived":
		return Styles.Muted.Render("▪")
	case "waiting":
		return Styles.Warning.Render("…")
	default:
		return Styles.Accent.Render("○")
	}
}
