// Package bus is the in-process pub/sub fabric. Topics fan out to bounded
// per-subscriber queues; publishers never block.
package bus

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueueCapacity bounds each subscriber queue. A full queue drops the newest
// delivery for that subscriber only.
const QueueCapacity = 1024

// Envelope is the unit of delivery. ID is the canonical message id when the
// publisher deduplicates; TS is unix seconds.
type Envelope struct {
	ID        string         `json:"id"`
	TS        float64        `json:"ts"`
	Op        string         `json:"op"`
	Recipient string         `json:"recipient,omitempty"`
	Capsule   map[string]any `json:"capsule,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Subscription is one live topic listener. C is closed on unsubscribe.
type Subscription struct {
	ID    string
	Topic string
	C     chan Envelope

	mu     sync.Mutex
	closed bool
}

// deliver enqueues without blocking. Delivery and shutdown are serialized
// per subscription, so a publisher holding a stale snapshot sees the closed
// flag instead of sending on a closed channel.
func (s *Subscription) deliver(env Envelope) (ok, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.C <- env:
		return true, false
	default:
		return false, true
	}
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.C)
	}
}

// Bus fans envelopes out to topic subscribers. The registry mutex guards the
// subscription map only; delivery iterates over a snapshot so a slow consumer
// never holds the lock.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]*Subscription
	dropped atomic.Uint64
	log     zerolog.Logger
}

// New creates an empty bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[string][]*Subscription),
		log:  log.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers a new listener on topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		ID:    uuid.NewString(),
		Topic: topic,
		C:     make(chan Envelope, QueueCapacity),
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a listener and closes its channel. Unknown ids are a
// no-op.
func (b *Bus) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	list := b.subs[topic]
	for i, s := range list {
		if s.ID == subID {
			b.subs[topic] = append(list[:i:i], list[i+1:]...)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			b.mu.Unlock()
			s.shut()
			return
		}
	}
	b.mu.Unlock()
}

// Publish fans env out to every subscriber of topic and returns the number
// of queues it landed in. Enqueue is non-blocking: a full queue drops that
// delivery and bumps the drop counter. A non-serializable envelope is
// replaced by {op:"error"} rather than propagated.
func (b *Bus) Publish(topic string, env Envelope) int {
	env = sanitize(env)

	b.mu.Lock()
	list := b.subs[topic]
	snapshot := make([]*Subscription, len(list))
	copy(snapshot, list)
	b.mu.Unlock()

	delivered := 0
	for _, s := range snapshot {
		ok, dropped := s.deliver(env)
		switch {
		case ok:
			delivered++
		case dropped:
			b.dropped.Add(1)
			b.log.Debug().Str("topic", topic).Str("sub", s.ID).Msg("queue full, delivery dropped")
		}
	}
	return delivered
}

// Dropped reports the total deliveries lost to full queues.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers reports the listener count for topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// sanitize guarantees the envelope is JSON-serializable. Capsule and Meta are
// caller-supplied maps and may carry arbitrary values.
func sanitize(env Envelope) Envelope {
	if _, err := json.Marshal(env); err != nil {
		return Envelope{ID: env.ID, TS: env.TS, Op: "error"}
	}
	return env
}
