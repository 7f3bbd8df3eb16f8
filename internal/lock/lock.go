// Package lock arbitrates half-duplex resources (voice channel floors) with
// TTL leases. The manager is the single source of truth for who holds what;
// soft locks kept elsewhere are caches only.
package lock

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Lock operations.
const (
	OpAcquire = "acquire"
	OpRefresh = "refresh"
	OpRelease = "release"
)

// Lease states reported in events.
const (
	StateHeld = "held"
	StateFree = "free"
)

// Event is the outcome of one lock operation, broadcast on the resource's
// topic when a callback is registered.
type Event struct {
	Type     string  `json:"type"`
	Resource string  `json:"resource"`
	State    string  `json:"state"`
	Owner    string  `json:"owner,omitempty"`
	Until    float64 `json:"until,omitempty"`
	Granted  bool    `json:"granted"`
}

type lease struct {
	owner string
	until time.Time
}

// Callback receives every state change, keyed by the topic the operation
// arrived on.
type Callback func(topic string, ev Event)

// Manager holds the lease table. Expired leases are pruned passively on
// every operation; Sweep prunes actively and reports the freed owners.
type Manager struct {
	mu       sync.Mutex
	leases   map[string]lease
	callback Callback
	now      func() time.Time
	log      zerolog.Logger
}

// NewManager creates an empty lease table.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		leases: make(map[string]lease),
		now:    time.Now,
		log:    log.With().Str("component", "lock").Logger(),
	}
}

// SetCallback registers the broadcaster invoked after every state change.
// The callback runs outside the manager's mutex.
func (m *Manager) SetCallback(cb Callback) {
	m.mu.Lock()
	m.callback = cb
	m.mu.Unlock()
}

// Apply runs one lock operation and returns the resulting event.
//
// Acquire and refresh behave identically: a live lease held by another owner
// denies; anything else grants with until = now + ttl. Release removes the
// lease only when the caller owns it.
func (m *Manager) Apply(topic, op, resource, owner string, ttlMS int64) Event {
	m.mu.Lock()
	now := m.now()
	m.pruneLocked(now)

	var ev Event
	changed := false

	switch op {
	case OpRelease:
		cur, held := m.leases[resource]
		switch {
		case held && cur.owner != owner:
			// A refused release reports state free with the surviving
			// owner; the lease itself is untouched. Listeners read the
			// owner field, not the state, to see who still holds the floor.
			ev = Event{Type: "entanglement_lock", Resource: resource, State: StateFree, Owner: cur.owner, Until: epoch(cur.until), Granted: false}
		default:
			delete(m.leases, resource)
			ev = Event{Type: "entanglement_lock", Resource: resource, State: StateFree, Granted: true}
			changed = held
		}

	default: // acquire, refresh
		cur, held := m.leases[resource]
		if held && cur.owner != owner {
			ev = Event{Type: "entanglement_lock", Resource: resource, State: StateHeld, Owner: cur.owner, Until: epoch(cur.until), Granted: false}
			break
		}
		until := now.Add(time.Duration(ttlMS) * time.Millisecond)
		m.leases[resource] = lease{owner: owner, until: until}
		ev = Event{Type: "entanglement_lock", Resource: resource, State: StateHeld, Owner: owner, Until: epoch(until), Granted: true}
		changed = true
	}

	cb := m.callback
	m.mu.Unlock()

	if changed && cb != nil {
		cb(topic, ev)
	}
	return ev
}

// Holder reports the live owner of resource, or "" when free.
func (m *Manager) Holder(resource string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now())
	return m.leases[resource].owner
}

// Sweep removes every expired lease and returns the owners that lost them.
func (m *Manager) Sweep() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var freed []string
	for res, l := range m.leases {
		if !l.until.After(now) {
			freed = append(freed, l.owner)
			delete(m.leases, res)
		}
	}
	return freed
}

// pruneLocked drops expired leases. Callers hold the mutex. Expiry compares
// until > now at decision time; nothing is cached across calls.
func (m *Manager) pruneLocked(now time.Time) {
	for res, l := range m.leases {
		if !l.until.After(now) {
			delete(m.leases, res)
		}
	}
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
