package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/lore/internal/events"
	"github.com/mattjoyce/lore/internal/journal"
)

// ExtensionState aggregates the calls seen for one extension.
type ExtensionState struct {
	Name       string
	Calls      int
	Failures   int
	Timeouts   int
	TotalMS    int64
	LastTool   string
	LastStatus journal.Status
	LastSeen   time.Time
}

// AvgMS is the mean call duration in milliseconds.
func (s *ExtensionState) AvgMS() int64 {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalMS / int64(s.Calls)
}

// decodeCall extracts the settled call carried by a call.settled event.
func decodeCall(e events.Event) (journal.Entry, bool) {
	if e.Type != events.TypeCallSettled {
		return journal.Entry{}, false
	}
	var entry journal.Entry
	if err := json.Unmarshal(e.Data, &entry); err != nil || entry.Extension == "" {
		return journal.Entry{}, false
	}
	return entry, true
}

func recordCall(exts map[string]*ExtensionState, entry journal.Entry, now time.Time) {
	s, ok := exts[entry.Extension]
	if !ok {
		s = &ExtensionState{Name: entry.Extension}
		exts[entry.Extension] = s
	}
	s.Calls++
	s.TotalMS += entry.DurationMS
	switch entry.Status {
	case journal.StatusFailed:
		s.Failures++
	case journal.StatusTimedOut:
		s.Timeouts++
	}
	s.LastTool = entry.Tool
	s.LastStatus = entry.Status
	s.LastSeen = now
}

func newExtensionTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns(extensionColumns(0)),
		table.WithFocused(true),
		table.WithHeight(6),
	)
	t.SetStyles(theme.Table)
	return t
}

// extensionColumns sizes the columns for a panel of the given width; the
// extension name absorbs whatever is left.
func extensionColumns(width int) []table.Column {
	cols := []table.Column{
		{Title: "Extension", Width: 18},
		{Title: "Calls", Width: 6},
		{Title: "Failed", Width: 6},
		{Title: "Timeout", Width: 7},
		{Title: "Avg ms", Width: 7},
		{Title: "Last tool", Width: 16},
		{Title: "Last", Width: 10},
	}
	used := 0
	for _, c := range cols {
		used += c.Width + 2
	}
	if extra := width - used; extra > 0 {
		cols[0].Width += extra
	}
	return cols
}

func extensionRows(exts map[string]*ExtensionState, now time.Time) []table.Row {
	names := make([]string, 0, len(exts))
	for name := range exts {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		s := exts[name]
		rows = append(rows, table.Row{
			s.Name,
			fmt.Sprint(s.Calls),
			fmt.Sprint(s.Failures),
			fmt.Sprint(s.Timeouts),
			fmt.Sprint(s.AvgMS()),
			s.LastTool,
			formatAgo(now.Sub(s.LastSeen)),
		})
	}
	return rows
}

func renderExtensions(t table.Model, theme Theme, width int) string {
	var body string
	if len(t.Rows()) == 0 {
		body = theme.Dim.Render("  No calls yet...")
	} else {
		body = t.View()
	}
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("EXTENSIONS"), body)
	return theme.Border.Width(width - 4).Render(content)
}

const maxShownCalls = 10

func renderCallStream(calls []journal.Entry, at []time.Time, theme Theme, width int) string {
	if len(calls) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("CALLS"),
			theme.Dim.Render("  Waiting for calls..."),
		)
		return theme.Border.Width(width - 4).Render(content)
	}

	var lines []string
	for i, c := range calls {
		if i >= maxShownCalls {
			break
		}
		lines = append(lines, formatCall(c, at[i], theme))
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("CALLS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(width - 4).Render(content)
}

func formatCall(c journal.Entry, at time.Time, theme Theme) string {
	ts := theme.Dim.Render(at.Format("15:04:05"))
	status := theme.Status(c.Status).Render(fmt.Sprintf("%-10s", c.Status))
	line := fmt.Sprintf("%s %s %s/%s %s", ts, status, c.Extension, c.Tool, theme.Dim.Render(fmt.Sprintf("%dms", c.DurationMS)))
	if c.Error != "" {
		msg := c.Error
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		line += " " + theme.Highlight.Render(msg)
	}
	return line
}

func formatAgo(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
