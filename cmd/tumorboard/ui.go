package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/heartmarshall/tumorboard/internal/domain"
)

var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#6C7A80")
)

var styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
	Header  lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Success: lipgloss.NewStyle().Foreground(colorSuccess),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorAccent).
		Padding(0, 1),
	Header: lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1),
}

const (
	iconOK      = "✓"
	iconWarning = "⚠"
	iconError   = "✗"
	iconPending = "○"
	iconArrow   = "→"
)

func successf(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styles.Success.Render(iconOK)+" "+fmt.Sprintf(format, args...))
}

func warnf(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styles.Warning.Render(iconWarning)+" "+fmt.Sprintf(format, args...))
}

func failf(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styles.Error.Render(iconError)+" "+fmt.Sprintf(format, args...))
}

// statusIcon renders the completeness marker of a record.
func statusIcon(s domain.RecordStatus) string {
	switch s {
	case domain.RecordStatusCompleted:
		return styles.Success.Render(iconOK)
	case domain.RecordStatusSkipped:
		return styles.Error.Render(iconError)
	default:
		return styles.Muted.Render(iconPending)
	}
}

// renderTable lays rows out under headers with a rounded border.
func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorMuted)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

// interactive reports whether both stdin and stdout are terminals.
func interactive() bool {
	return isTerminal(os.Stdin) && isTerminal(os.Stdout)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
