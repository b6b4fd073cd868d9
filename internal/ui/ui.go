// Package ui renders CLI output. Styling is dropped when stdout is not a
// terminal.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/ascending/ascend/internal/notebook"
)

var (
	accentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#005FD7", Dark: "#5FAFFF"})
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#008700", Dark: "#5FD75F"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AF5F00", Dark: "#FFAF00"})
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#AF0000", Dark: "#FF5F5F"})
	mutedStyle  = lipgloss.NewStyle().Faint(true)

	kindStyles = map[notebook.CellKind]lipgloss.Style{
		notebook.KindCode:     lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		notebook.KindMarkdown: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		notebook.KindRaw:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
)

func init() {
	if !IsTerminal(os.Stdout) {
		DisableColor()
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// DisableColor turns off all styling.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// Width returns the terminal width of stdout, or 80.
func Width() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// Confirm asks a yes/no question on the terminal. It returns def without
// asking when stdin is not a terminal.
func Confirm(title string, def bool) (bool, error) {
	if !IsTerminal(os.Stdin) {
		return def, nil
	}
	answer := def
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&answer).
		Run()
	if err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return answer, nil
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// CellTable renders one line per cell: index, kind and the first line of its
// source, cut to width.
func CellTable(cells []notebook.Cell, width int) string {
	if len(cells) == 0 {
		return RenderMuted("(empty notebook)") + "\n"
	}

	var b strings.Builder
	numWidth := len(fmt.Sprint(len(cells) - 1))
	for _, c := range cells {
		kind := c.Kind
		if kind == "" {
			kind = notebook.DefaultKind
		}
		prefix := fmt.Sprintf("%*d  %-8s  ", numWidth, c.Index, kind)

		first, _, more := strings.Cut(c.Source, "\n")
		if more {
			first += " …"
		}
		if room := width - len(prefix); room > 0 && len([]rune(first)) > room {
			first = string([]rune(first)[:room-1]) + "…"
		}

		style, ok := kindStyles[kind]
		if !ok {
			style = mutedStyle
		}
		b.WriteString(fmt.Sprintf("%*d  ", numWidth, c.Index))
		b.WriteString(style.Render(string(kind)))
		b.WriteString(strings.Repeat(" ", max(8-len(kind), 0)+2))
		b.WriteString(first)
		b.WriteString("\n")
	}
	return b.String()
}
