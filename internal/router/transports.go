package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssd-technologies/glyphnet/internal/bus"
	"github.com/ssd-technologies/glyphnet/internal/gip"
	"github.com/ssd-technologies/glyphnet/internal/gwip"
	"github.com/ssd-technologies/glyphnet/internal/qkd"
)

// Transports owns the shared machinery behind the built-in handlers.
type Transports struct {
	Bus    *bus.Bus
	Codec  *gwip.Codec
	Phase  *gwip.PhaseScheduler
	Peers  *Peers
	Beacon *BeaconBuffer
	Radio  *RadioCoder
	Air    *AirLog
	log    zerolog.Logger
}

// NewTransports bundles the transport dependencies. Any field may be nil;
// the corresponding transport then declines every packet.
func NewTransports(b *bus.Bus, codec *gwip.Codec, phase *gwip.PhaseScheduler, peers *Peers, beacon *BeaconBuffer, radio *RadioCoder, air *AirLog, log zerolog.Logger) *Transports {
	return &Transports{
		Bus: b, Codec: codec, Phase: phase,
		Peers: peers, Beacon: beacon, Radio: radio, Air: air,
		log: log.With().Str("component", "transports").Logger(),
	}
}

// RegisterAll installs every built-in transport on r.
func (t *Transports) RegisterAll(r *Router) {
	r.Register("local", t.Local)
	r.Register("gwave", t.GWave)
	r.Register("tcp", t.TCP)
	r.Register("beacon", t.BeaconPark)
	r.Register("radio", t.RadioTx)
	r.Register("light", t.Light)
	r.Register("ble", t.BLE)
}

func (t *Transports) topicFor(p *gip.Packet, opts Options) string {
	if opts.Topic != "" {
		return opts.Topic
	}
	return "gnet:" + p.Target
}

func (t *Transports) envelopeFor(p *gip.Packet) bus.Envelope {
	env := bus.Envelope{
		ID:        p.ID,
		TS:        p.Timestamp,
		Op:        p.BaseType(),
		Recipient: p.Target,
		Meta:      p.Metadata,
	}
	if !p.Encrypted() {
		var capsule map[string]any
		if json.Unmarshal(p.Payload, &capsule) == nil {
			env.Capsule = capsule
		}
	}
	return env
}

// Local publishes the packet on the in-process bus.
func (t *Transports) Local(ctx context.Context, p *gip.Packet, opts Options) bool {
	if t.Bus == nil {
		return false
	}
	t.Bus.Publish(t.topicFor(p, opts), t.envelopeFor(p))
	return true
}

// GWave upgrades the packet to a GWIP envelope, runs the phase scheduler,
// and publishes the annotated envelope. Gated envelopes are not forwarded.
// Carrier selection treats qkd_required exactly as the dispatch gate does,
// so a disabled flag never forces the quantum carrier.
func (t *Transports) GWave(ctx context.Context, p *gip.Packet, opts Options) bool {
	if t.Bus == nil || t.Codec == nil {
		return false
	}

	sel := gwip.SelectCarrier(gwip.CarrierContext{
		Intent:       metaString(opts.Meta, "intent"),
		QKDRequired:  qkd.ModeOf(p.Metadata) != qkd.ModeOff,
		GoalFidelity: metaString(opts.Meta, "goal_fidelity"),
	})
	env, err := t.Codec.Encode(p, gwip.Header{
		SourceContainer: p.Sender,
		TargetContainer: p.Target,
		CarrierType:     sel.Carrier.Type,
		Freq:            sel.Carrier.Freq,
		Coherence:       sel.Carrier.Coherence,
	}, true)
	if err != nil {
		t.log.Warn().Str("packet", p.ID).Err(err).Msg("gwave encode failed")
		return false
	}

	if t.Phase != nil {
		payload, _ := p.PlainPayload()
		if !t.Phase.Schedule(env, payload) {
			// Gated: the veto event has been emitted; nothing goes out.
			return false
		}
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return false
	}
	var capsule map[string]any
	if err := json.Unmarshal(raw, &capsule); err != nil {
		return false
	}
	t.Bus.Publish(t.topicFor(p, opts), bus.Envelope{
		ID:        p.ID,
		TS:        float64(time.Now().UnixNano()) / 1e9,
		Op:        "gwip",
		Recipient: p.Target,
		Capsule:   capsule,
	})
	return true
}

// TCP forwards the packet over the live WebSocket peer links.
func (t *Transports) TCP(ctx context.Context, p *gip.Packet, opts Options) bool {
	if t.Peers == nil || t.Peers.Count() == 0 {
		return false
	}
	return t.Peers.Send(p) > 0
}

// BeaconPark parks the packet for store-and-forward delivery. It only
// accepts packets whose metadata opts into the beacon path, so auto-fallback
// does not swallow ordinary traffic that merely failed faster transports.
func (t *Transports) BeaconPark(ctx context.Context, p *gip.Packet, opts Options) bool {
	if t.Beacon == nil || metaString(p.Metadata, "beacon") == "" {
		return false
	}
	t.Beacon.Park(p, opts)
	return true
}

// RadioTx erasure-codes the encoded packet onto the simulated air. Like the
// beacon path it is opt-in via metadata so auto-fallback does not divert
// ordinary traffic.
func (t *Transports) RadioTx(ctx context.Context, p *gip.Packet, opts Options) bool {
	if t.Radio == nil || t.Air == nil || metaString(p.Metadata, "radio") == "" {
		return false
	}
	encoded, err := gip.Encode(p)
	if err != nil {
		return false
	}
	frames, err := t.Radio.Shard(p.ID, []byte(encoded))
	if err != nil {
		t.log.Warn().Str("packet", p.ID).Err(err).Msg("radio shard failed")
		return false
	}
	t.Air.Transmit(frames)
	return true
}

// Light is the simulated optical path: a bus publish tagged with the
// carrier.
func (t *Transports) Light(ctx context.Context, p *gip.Packet, opts Options) bool {
	if t.Bus == nil {
		return false
	}
	env := t.envelopeFor(p)
	if env.Meta == nil {
		env.Meta = map[string]any{}
	}
	env.Meta["carrier"] = gwip.CarrierOptical
	t.Bus.Publish(t.topicFor(p, opts), env)
	return true
}

// BLE is a stub for the hardware Bluetooth path; it always declines.
func (t *Transports) BLE(ctx context.Context, p *gip.Packet, opts Options) bool {
	return false
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	switch v := meta[key].(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
	}
	return ""
}
