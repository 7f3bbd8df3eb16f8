// Package router dispatches GIP packets across transport backends with
// QKD policy gating, per-recipient admission control, and ordered fallback.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ssd-technologies/glyphnet/internal/gip"
	"github.com/ssd-technologies/glyphnet/internal/qkd"
	"github.com/ssd-technologies/glyphnet/internal/telemetry"
)

// FallbackOrder is the auto-selection sequence tried when the caller does
// not name a transport.
var FallbackOrder = []string{"gwave", "tcp", "beacon", "radio", "light", "local"}

// Options carries per-dispatch context into transport handlers.
type Options struct {
	Topic string
	GKey  *qkd.GKey
	Meta  map[string]any
}

// Handler delivers a packet over one transport. It reports success; errors
// are logged by the handler and converted to false so auto mode can try the
// next channel.
type Handler func(ctx context.Context, p *gip.Packet, opts Options) bool

// Router is the transport registry.
type Router struct {
	mu       sync.Mutex
	handlers map[string]Handler
	enforcer *qkd.Enforcer
	metrics  *telemetry.Metrics
	log      zerolog.Logger
}

// New creates a router. enforcer and metrics may be nil.
func New(enforcer *qkd.Enforcer, metrics *telemetry.Metrics, log zerolog.Logger) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		enforcer: enforcer,
		metrics:  metrics,
		log:      log.With().Str("component", "router").Logger(),
	}
}

// Register installs a transport handler under name, replacing any previous
// one.
func (r *Router) Register(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Dispatch routes a packet. With transport named, only that channel is
// tried; otherwise the fallback order applies and the first success wins.
// QKD policy is enforced before any transport sees the packet.
func (r *Router) Dispatch(ctx context.Context, p *gip.Packet, transport string, opts Options) (bool, error) {
	if qkd.ModeOf(p.Metadata) != qkd.ModeOff && r.enforcer != nil {
		payload, _ := p.PlainPayload()
		if err := r.enforcer.Enforce(p.Metadata, payload, opts.GKey); err != nil {
			if r.metrics != nil {
				r.metrics.QKDViolations.Inc()
			}
			r.log.Warn().Str("packet", p.ID).Err(err).Msg("qkd gate rejected dispatch")
			return false, err
		}
	}

	if transport != "" {
		h := r.handler(transport)
		if h == nil {
			return false, fmt.Errorf("unknown transport %q", transport)
		}
		return h(ctx, p, opts), nil
	}

	for i, name := range FallbackOrder {
		h := r.handler(name)
		if h == nil {
			continue
		}
		if h(ctx, p, opts) {
			if i > 0 && r.metrics != nil {
				r.metrics.Fallbacks.Inc()
			}
			return true, nil
		}
		r.log.Debug().Str("packet", p.ID).Str("transport", name).Msg("transport declined, trying next")
	}
	return false, nil
}

func (r *Router) handler(name string) Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handlers[name]
}
