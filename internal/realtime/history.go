package realtime

import (
	"sync"
	"time"
)

// History is a bounded ring of recent events replayed to new subscribers.
type History struct {
	mu    sync.RWMutex
	buf   []Event
	limit int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 100
	}
	return &History{limit: limit}
}

func (h *History) Add(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buf) < h.limit {
		h.buf = append(h.buf, ev)
		return
	}
	copy(h.buf, h.buf[1:])
	h.buf[len(h.buf)-1] = ev
}

func (h *History) List(limit int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > len(h.buf) {
		limit = len(h.buf)
	}
	out := make([]Event, 0, limit)
	for i := len(h.buf) - limit; i < len(h.buf); i++ {
		out = append(out, h.buf[i])
	}
	return out
}

func (h *History) Since(ts time.Time) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, 0)
	for _, ev := range h.buf {
		if !ev.Timestamp.Before(ts) {
			out = append(out, ev)
		}
	}
	return out
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = nil
}
