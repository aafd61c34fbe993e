package ws

import (
	"sync"
	"time"

	"github.com/modoterra/panelctl/pkg/core"
)

// Hub fans published log lines out to subscribers and keeps a short
// history that new subscribers receive first. It is the server side of a
// log stream.
type Hub struct {
	target  core.Target
	history int

	mu     sync.Mutex
	lines  []core.LogLine
	subs   map[chan core.LogLine]struct{}
	closed bool
}

// NewHub creates a hub for target keeping up to history recent lines.
func NewHub(target core.Target, history int) *Hub {
	if history < 0 {
		history = 0
	}
	return &Hub{
		target:  target,
		history: history,
		subs:    make(map[chan core.LogLine]struct{}),
	}
}

// Target returns the target this hub serves.
func (h *Hub) Target() core.Target { return h.target }

// Publish records line and delivers it to every subscriber. Slow
// subscribers drop lines rather than block the publisher.
func (h *Hub) Publish(line string) {
	entry := core.LogLine{
		Target:   h.target,
		TsUnixMs: time.Now().UnixMilli(),
		Line:     line,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if h.history > 0 {
		h.lines = append(h.lines, entry)
		if len(h.lines) > h.history {
			h.lines = h.lines[len(h.lines)-h.history:]
		}
	}
	for ch := range h.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Subscribe returns the current history and a channel of subsequent lines.
// The channel is closed by the returned cancel func or by Close.
func (h *Hub) Subscribe(buffer int) ([]core.LogLine, <-chan core.LogLine, func()) {
	ch := make(chan core.LogLine, buffer)
	h.mu.Lock()
	backlog := append([]core.LogLine(nil), h.lines...)
	if h.closed {
		close(ch)
		h.mu.Unlock()
		return backlog, ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
	return backlog, ch, cancel
}

// Recent returns a copy of the retained history.
func (h *Hub) Recent() []core.LogLine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.LogLine(nil), h.lines...)
}

// Subscribers reports how many subscribers are attached.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}
