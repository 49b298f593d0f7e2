package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/raphaelgruber/arielsync/internal/models"
)

// Theme defines colors for CLI output.
type Theme struct {
	Header  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color

	// plain disables styling, for pipes and files.
	plain bool
}

var defaultTheme = Theme{
	Header:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

// themeFor returns the default theme, unstyled unless w is a terminal.
func themeFor(w io.Writer) Theme {
	t := defaultTheme
	f, ok := w.(*os.File)
	t.plain = !ok || !term.IsTerminal(int(f.Fd()))
	return t
}

func (t Theme) render(style lipgloss.Style, s string) string {
	if t.plain {
		return s
	}
	return style.Render(s)
}

func (t Theme) header(s string) string {
	return t.render(lipgloss.NewStyle().Foreground(t.Header).Bold(true), s)
}

func (t Theme) hint(s string) string {
	return t.render(lipgloss.NewStyle().Foreground(t.Hint).Italic(true), s)
}

// status colors a window status, padded to a fixed column width.
func (t Theme) status(s models.WindowStatus) string {
	color := t.Warning
	switch s {
	case models.WindowCompleted:
		color = t.Success
	case models.WindowLost:
		color = t.Error
	}
	return t.render(lipgloss.NewStyle().Foreground(color), fmt.Sprintf("%-10s", s))
}
