package router

import (
	"sync"
	"time"
)

// Tracker records which identities are currently reachable. The beacon
// transport flushes buffered packets when their target comes online.
type Tracker struct {
	mu     sync.Mutex
	online map[string]time.Time
	now    func() time.Time
}

// NewTracker creates an empty presence table.
func NewTracker() *Tracker {
	return &Tracker{
		online: make(map[string]time.Time),
		now:    time.Now,
	}
}

// MarkOnline records identity as reachable.
func (t *Tracker) MarkOnline(identity string) {
	t.mu.Lock()
	t.online[identity] = t.now()
	t.mu.Unlock()
}

// MarkOffline removes identity from the table.
func (t *Tracker) MarkOffline(identity string) {
	t.mu.Lock()
	delete(t.online, identity)
	t.mu.Unlock()
}

// Online reports whether identity is currently reachable.
func (t *Tracker) Online(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[identity]
	return ok
}

// Snapshot returns the reachable identities.
func (t *Tracker) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	return out
}
