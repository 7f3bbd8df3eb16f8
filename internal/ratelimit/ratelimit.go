// Package ratelimit bounds how fast agents may push frames into the fabric.
// Budgets are fixed-window: an agent gets budget frames per window, and the
// counter resets when the window rolls over.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	used   int
	opened time.Time
}

func (w *window) take(now time.Time, budget int, span time.Duration) bool {
	if now.Sub(w.opened) > span {
		w.used = 0
		w.opened = now
	}
	w.used++
	return w.used <= budget
}

// Table keys one budget window per client, so every WebSocket peer gets its
// own allowance instead of sharing one. Entries idle for two full windows
// are pruned on the way through Allow.
type Table struct {
	mu      sync.Mutex
	clients map[string]*window
	budget  int
	span    time.Duration
	now     func() time.Time
}

// NewTable creates a Table allowing budget frames per span per client key.
func NewTable(budget int, span time.Duration) *Table {
	return &Table{
		clients: make(map[string]*window),
		budget:  budget,
		span:    span,
		now:     time.Now,
	}
}

// Allow consumes one frame from key's window and reports whether the budget
// still covers it. Unknown keys open a fresh window.
func (t *Table) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, w := range t.clients {
		if k != key && now.Sub(w.opened) > 2*t.span {
			delete(t.clients, k)
		}
	}

	w, ok := t.clients[key]
	if !ok {
		w = &window{opened: now}
		t.clients[key] = w
	}
	return w.take(now, t.budget, t.span)
}

// Remaining reports how many frames key's current window still admits.
func (t *Table) Remaining(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.clients[key]
	if !ok || t.now().Sub(w.opened) > t.span {
		return t.budget
	}
	if rest := t.budget - w.used; rest > 0 {
		return rest
	}
	return 0
}

// Len reports the live client count, for introspection.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}
