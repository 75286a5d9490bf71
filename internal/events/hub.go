// Package events streams settled tool calls to /events subscribers and keeps
// a short backlog so a reconnecting client can resume by Last-Event-ID.
package events

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/lore/internal/journal"
	"github.com/mattjoyce/lore/internal/sandbox"
)

// TypeCallSettled is published once per settled tool call. Its Data is the
// call's journal.Entry, the same shape GET /calls serves.
const TypeCallSettled = "call.settled"

const (
	defaultBacklog   = 100
	subscriberBuffer = 64
)

// Event is one frame of the /events stream.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub implements sandbox.Observer. IDs are assigned under the same lock
// that appends to the backlog, so the backlog is always in ID order.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	limit   int
	backlog []Event // oldest first
	subs    map[chan Event]struct{}

	now func() time.Time
}

// NewHub returns a hub retaining the last backlog events; backlog <= 0 uses
// a default of 100.
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		limit:   backlog,
		backlog: make([]Event, 0, backlog),
		subs:    make(map[chan Event]struct{}),
		now:     time.Now,
	}
}

// CallSettled publishes rec as a call.settled event.
func (h *Hub) CallSettled(_ context.Context, rec sandbox.CallRecord) {
	data, err := json.Marshal(journal.EntryFor(rec))
	if err != nil {
		return
	}
	h.append(TypeCallSettled, data)
}

func (h *Hub) append(eventType string, data json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: h.now().UTC(), Data: data}

	if len(h.backlog) == h.limit {
		n := copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:n]
	}
	h.backlog = append(h.backlog, ev)

	for ch := range h.subs {
		// A subscriber that falls behind loses events; it never stalls a call.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a live subscriber. The returned cancel closes the
// channel and may be called more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// SnapshotSince returns the backlogged events with ID > lastID, oldest
// first. lastID 0 returns the whole backlog.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := sort.Search(len(h.backlog), func(i int) bool { return h.backlog[i].ID > lastID })
	return append([]Event(nil), h.backlog[i:]...)
}
