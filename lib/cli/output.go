package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)
	noteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// field is one labelled line of command output.
type field struct {
	key   string
	value string
}

// printFields writes "key: value" lines with aligned keys.
func printFields(w io.Writer, fields ...field) {
	width := 0
	for _, f := range fields {
		if len(f.key) > width {
			width = len(f.key)
		}
	}
	label := keyStyle.Width(width + 1)
	for _, f := range fields {
		fmt.Fprintf(w, "%s %s\n", label.Render(f.key+":"), f.value)
	}
}

// printNote writes a dimmed status line.
func printNote(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, noteStyle.Render(fmt.Sprintf(format, args...)))
}
