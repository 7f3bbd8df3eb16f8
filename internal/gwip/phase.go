package gwip

import (
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Phase scheduler tuning.
const (
	MinSQI       = 0.25
	pllAlpha     = 0.05
	jitterWindow = 32
	jitterSigma  = 0.002
	driftBound   = 5e-4
	slotWidth    = 10 * time.Millisecond
	slotCount    = 64
)

// SQISource exposes the current Symbolic Quality Index, a scalar in [0,1]
// used for admission control.
type SQISource interface {
	SQI() float64
}

// ToxicityChecker is an opaque content predicate. When it returns true the
// payload is vetoed regardless of SQI.
type ToxicityChecker func(payload map[string]any) bool

// VetoFunc receives one event per gated envelope.
type VetoFunc func(packetID, reason string)

// PhaseScheduler annotates outbound envelopes with loop timing and gates
// admission on signal quality. One scheduler per process: the drift rate is
// sampled once at construction.
type PhaseScheduler struct {
	mu          sync.Mutex
	lockTime    float64
	base        float64
	offset      float64
	driftPerSec float64
	window      []float64

	sqi      SQISource
	toxicity ToxicityChecker
	veto     VetoFunc
	minSQI   float64
	now      func() time.Time
	log      zerolog.Logger
}

// NewPhaseScheduler creates a scheduler reading admission signal from src.
// veto may be nil.
func NewPhaseScheduler(src SQISource, veto VetoFunc, log zerolog.Logger) *PhaseScheduler {
	now := time.Now
	start := float64(now().UnixNano()) / 1e9
	return &PhaseScheduler{
		lockTime:    start,
		base:        start,
		driftPerSec: -driftBound + mrand.Float64()*2*driftBound,
		window:      make([]float64, 0, jitterWindow),
		sqi:         src,
		veto:        veto,
		minSQI:      MinSQI,
		now:         now,
		log:         log.With().Str("component", "phase").Logger(),
	}
}

// SetToxicityChecker installs an optional content veto.
func (s *PhaseScheduler) SetToxicityChecker(tc ToxicityChecker) { s.toxicity = tc }

// Schedule annotates env in place and reports whether it may be forwarded.
// Gated envelopes carry gated=true and a reason, and trigger exactly one veto
// event; callers must not forward them.
func (s *PhaseScheduler) Schedule(env *Envelope, payload map[string]any) bool {
	s.mu.Lock()
	nowSec := float64(s.now().UnixNano()) / 1e9
	s.offset += pllAlpha * (nowSec - (s.lockTime + s.offset))

	s.window = append(s.window, mrand.NormFloat64()*jitterSigma)
	if len(s.window) > jitterWindow {
		s.window = s.window[1:]
	}
	lo, hi := s.window[0], s.window[0]
	for _, v := range s.window[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	env.ScheduledAt = nowSec
	env.Slot = int(time.Duration(nowSec*float64(time.Second))/slotWidth) % slotCount
	env.PLLOffset = s.offset
	env.Jitter = hi - lo
	env.Drift = s.driftPerSec * (nowSec - s.base)
	s.mu.Unlock()

	if s.toxicity != nil && s.toxicity(payload) {
		s.gate(env, "soullaw_veto")
		return false
	}

	sqi := 1.0
	if s.sqi != nil {
		sqi = s.sqi.SQI()
	}
	if sqi < s.minSQI {
		s.gate(env, "sqi_below_threshold")
		s.log.Warn().Str("packet", env.Header.PacketID).Float64("sqi", sqi).Msg("envelope gated")
		return false
	}

	env.Gated = false
	env.Reason = "ok"
	return true
}

func (s *PhaseScheduler) gate(env *Envelope, reason string) {
	env.Gated = true
	env.Reason = reason
	if s.veto != nil {
		s.veto(env.Header.PacketID, reason)
	}
}
