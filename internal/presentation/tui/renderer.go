// Package tui renders fleet state for the terminal. Views are built as
// markdown and passed through glamour when stdout is a real terminal;
// piped output gets the raw markdown, which stays grep-friendly.
package tui

import (
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() func(string) (string, error) {
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // detect light/dark background
	)

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// IsInteractive reports whether stdout is attached to a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Render renders markdown for the current stdout: styled when interactive,
// raw markdown otherwise.
func Render(markdown string) string {
	if !IsInteractive() {
		return markdown
	}
	out, err := NewRenderer()(markdown)
	if err != nil {
		return markdown
	}
	return out
}
