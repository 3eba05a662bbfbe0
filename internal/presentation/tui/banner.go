package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the ASCII art banner shown by the serve commands.
func PrintBanner(version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"      _            __ _           _   ", "#818cf8"},
		{"   __| | _____   _/ _| | ___  ___| |_ ", "#a78bfa"},
		{"  / _` |/ _ \\ \\ / / _| |/ _ \\/ _ \\ __|", "#c084fc"},
		{" | (_| |  __/\\ V / | | |  __/  __/ |_ ", "#e879f9"},
		{"  \\__,_|\\___| \\_/|_| |_|\\___|\\___|\\__|", "#f472b6"},
	}

	fmt.Println()
	for _, l := range lines {
		fmt.Println(termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Println(termenv.String("  local fleet orchestrator " + version).Foreground(p.Color("#fb7185")).Faint())
	fmt.Println()
}
