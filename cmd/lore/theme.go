package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/lore/internal/journal"
)

// theme keeps CLI colors in one place.
type theme struct {
	border    lipgloss.Style
	header    lipgloss.Style
	cell      lipgloss.Style
	succeeded lipgloss.Style
	failed    lipgloss.Style
	timedOut  lipgloss.Style
	dim       lipgloss.Style
}

func newTheme() theme {
	cell := lipgloss.NewStyle().Padding(0, 1)
	return theme{
		border:    lipgloss.NewStyle().Foreground(lipgloss.Color("#874BFD")),
		header:    cell.Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		cell:      cell,
		succeeded: cell.Foreground(lipgloss.Color("#00FF00")),
		failed:    cell.Foreground(lipgloss.Color("#FF0000")),
		timedOut:  cell.Foreground(lipgloss.Color("#FFFF00")),
		dim:       cell.Foreground(lipgloss.Color("#888888")),
	}
}

// table renders rows under headers. statusCol, when not negative, is the
// column holding a journal status to color.
func (t theme) table(headers []string, rows [][]string, statusCol int) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(t.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return t.header
			}
			if col != statusCol || row < 0 || row >= len(rows) {
				return t.cell
			}
			return t.statusStyle(journal.Status(rows[row][col]))
		}).
		String()
}

func (t theme) statusStyle(s journal.Status) lipgloss.Style {
	switch s {
	case journal.StatusSucceeded:
		return t.succeeded
	case journal.StatusFailed:
		return t.failed
	case journal.StatusTimedOut:
		return t.timedOut
	default:
		return t.dim
	}
}
