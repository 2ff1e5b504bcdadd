package persist

import (
	"sync"
	"time"

	"github.com/hieudt/vnrelay/internal/tick"
)

// writeGate throttles writes to at most one per symbol per interval.
// A tick that arrives with the window open is written immediately; ticks
// inside a window are stashed, newest wins, and the survivor is flushed
// by Due once the window elapses. The store therefore always converges on
// the last observed value, even when the stream goes quiet mid-window.
type writeGate struct {
	interval time.Duration

	mu      sync.Mutex
	last    map[string]time.Time
	pending map[string]tick.Tick
}

func newWriteGate(interval time.Duration) *writeGate {
	return &writeGate{
		interval: interval,
		last:     make(map[string]time.Time),
		pending:  make(map[string]tick.Tick),
	}
}

// Offer records tk as the latest observed value for its symbol and reports
// whether it should be written now.
func (g *writeGate) Offer(tk tick.Tick, now time.Time) bool {
	if g.interval <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.last[tk.Symbol]; ok && now.Sub(t) < g.interval {
		g.pending[tk.Symbol] = tk
		return false
	}
	g.last[tk.Symbol] = now
	delete(g.pending, tk.Symbol)
	return true
}

// Due returns the stashed latest ticks whose window has elapsed at now,
// marking them written.
func (g *writeGate) Due(now time.Time) []tick.Tick {
	g.mu.Lock()
	defer g.mu.Unlock()

	var due []tick.Tick
	for sym, tk := range g.pending {
		if now.Sub(g.last[sym]) >= g.interval {
			g.last[sym] = now
			delete(g.pending, sym)
			due = append(due, tk)
		}
	}
	return due
}
