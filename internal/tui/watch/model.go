package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/lore/internal/events"
	"github.com/mattjoyce/lore/internal/journal"
)

const (
	maxCallLog        = 50
	healthInterval    = 5 * time.Second
	reconnectInterval = 3 * time.Second
)

// Model is the BubbleTea model for lore watch.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health     HealthState
	extensions map[string]*ExtensionState
	calls      []journal.Entry // newest first
	callTimes  []time.Time
	lastID     int64

	ticker   Ticker
	activity Activity

	theme Theme
	table table.Model

	hubEvents chan events.Event
	now       func() time.Time

	lastError string
}

// New creates a watch model for the lore API at apiURL. apiKey may be empty
// when the API runs without authentication.
func New(apiURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		apiURL:     apiURL,
		apiKey:     apiKey,
		extensions: make(map[string]*ExtensionState),
		hubEvents:  make(chan events.Event, 100),
		ticker:     NewTicker(),
		theme:      theme,
		table:      newExtensionTable(theme),
		now:        time.Now,
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(extensionColumns(m.width - 8))
		m.table.SetWidth(m.width - 8)

	case tickMsg:
		m.ticker.Tick()
		m.activity.Decay(m.now())
		m.table.SetRows(extensionRows(m.extensions, m.now()))
		return m, tick()

	case eventMsg:
		m.handleEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.ExtensionsLoaded = msg.ExtensionsLoaded
		m.health.WorkersLive = msg.WorkersLive
		m.health.Unavailable = msg.Unavailable
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, m.pollHealthLater()

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		// The pending receiveNextEvent keeps reading from hubEvents, so the
		// new subscription only needs to feed the same channel.
		return m, tea.Tick(reconnectInterval, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, m.pollHealthLater()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) pollHealthLater() tea.Cmd {
	return tea.Tick(healthInterval, func(time.Time) tea.Msg {
		return fetchHealth(m.apiURL, m.apiKey)
	})
}

func (m *Model) handleEvent(e events.Event) {
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	m.health.Connected = true
	m.lastError = ""

	entry, ok := decodeCall(e)
	if !ok {
		return
	}
	now := m.now()
	m.calls = append([]journal.Entry{entry}, m.calls...)
	m.callTimes = append([]time.Time{now}, m.callTimes...)
	if len(m.calls) > maxCallLog {
		m.calls = m.calls[:maxCallLog]
		m.callTimes = m.callTimes[:maxCallLog]
	}
	recordCall(m.extensions, entry, now)
	m.activity.OnCall(now)
	m.table.SetRows(extensionRows(m.extensions, now))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to lore..."
	}
	now := m.now()

	parts := []string{
		renderHeader(m.health, m.ticker, m.activity, m.theme, m.width, now),
		renderExtensions(m.table, m.theme, m.width),
		renderCallStream(m.calls, m.callTimes, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Select extension"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
