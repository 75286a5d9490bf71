package watch

import (
	"strings"
	"time"
)

// Ticker flips on every redraw tick; a frozen ticker means a frozen UI.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Activity lights up on each settled call and fades one dot every two
// seconds of silence.
type Activity struct {
	dots     int
	lastCall time.Time
}

const activityDots = 5

func (a *Activity) OnCall(now time.Time) {
	a.dots = activityDots
	a.lastCall = now
}

func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	faded := int(now.Sub(a.lastCall) / (2 * time.Second))
	a.dots = max(activityDots-faded, 0)
}

func (a Activity) LastCall() time.Time {
	return a.lastCall
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range activityDots {
		if i < a.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}
