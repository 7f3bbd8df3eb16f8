// Package telemetry keeps a bounded in-memory event ring and dispatches
// per-event handlers. It also tracks the current Symbolic Quality Index for
// the phase scheduler.
package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCapacity bounds the event ring.
const DefaultCapacity = 200

// EventSQIUpdate carries {"score": float64} and moves the tracked SQI.
const EventSQIUpdate = "sqi_update"

// Event is one telemetry entry.
type Event struct {
	Type string         `json:"type"`
	TS   float64        `json:"ts"`
	Data map[string]any `json:"data,omitempty"`
	Tags []string       `json:"tags,omitempty"`
}

// Handler observes events of one type. Handlers run after the event is
// stored; a panicking handler is absorbed and logged, never propagated.
type Handler func(ev Event)

// Hub is the telemetry sink.
type Hub struct {
	mu       sync.Mutex
	ring     []Event
	cap      int
	handlers map[string][]Handler
	sqi      float64
	now      func() time.Time
	log      zerolog.Logger
}

// NewHub creates a hub with the default ring capacity and SQI 1.0.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		cap:      DefaultCapacity,
		handlers: make(map[string][]Handler),
		sqi:      1.0,
		now:      time.Now,
		log:      log.With().Str("component", "telemetry").Logger(),
	}
}

// Log stores an event and dispatches its handlers. sqi_update events move
// the tracked SQI before dispatch.
func (h *Hub) Log(eventType string, data map[string]any, tags ...string) {
	ev := Event{
		Type: eventType,
		TS:   float64(h.now().UnixNano()) / 1e9,
		Data: data,
		Tags: tags,
	}

	h.mu.Lock()
	h.ring = append(h.ring, ev)
	if len(h.ring) > h.cap {
		h.ring = h.ring[len(h.ring)-h.cap:]
	}
	if eventType == EventSQIUpdate {
		if score, ok := data["score"].(float64); ok {
			h.sqi = score
		}
	}
	handlers := append([]Handler(nil), h.handlers[eventType]...)
	h.mu.Unlock()

	for _, fn := range handlers {
		h.dispatch(fn, ev)
	}
}

func (h *Hub) dispatch(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Str("event", ev.Type).Any("panic", r).Msg("telemetry handler panicked")
		}
	}()
	fn(ev)
}

// On registers a handler for one event type.
func (h *Hub) On(eventType string, fn Handler) {
	h.mu.Lock()
	h.handlers[eventType] = append(h.handlers[eventType], fn)
	h.mu.Unlock()
}

// Recent returns up to n events, newest first.
func (h *Hub) Recent(n int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.ring) {
		n = len(h.ring)
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = h.ring[len(h.ring)-1-i]
	}
	return out
}

// SQI reports the last observed quality score, 1.0 until any sqi_update
// arrives.
func (h *Hub) SQI() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sqi
}
