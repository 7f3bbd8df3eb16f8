package router

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssd-technologies/glyphnet/internal/gip"
)

// DefaultBeaconTTL is how long a buffered packet waits for its target to
// come online before it is discarded.
const DefaultBeaconTTL = time.Hour

type beaconEntry struct {
	packet  *gip.Packet
	opts    Options
	expires time.Time
}

// BeaconBuffer is the store-and-forward satellite path: packets for offline
// targets are parked here and flushed when presence reports them reachable.
type BeaconBuffer struct {
	mu       sync.Mutex
	pending  map[string][]beaconEntry
	presence *Tracker
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewBeaconBuffer creates a buffer keyed on the presence tracker.
func NewBeaconBuffer(presence *Tracker, log zerolog.Logger) *BeaconBuffer {
	return &BeaconBuffer{
		pending:  make(map[string][]beaconEntry),
		presence: presence,
		ttl:      DefaultBeaconTTL,
		now:      time.Now,
		log:      log.With().Str("component", "beacon").Logger(),
	}
}

// Park buffers a packet for its target.
func (b *BeaconBuffer) Park(p *gip.Packet, opts Options) {
	b.mu.Lock()
	b.pending[p.Target] = append(b.pending[p.Target], beaconEntry{
		packet:  p,
		opts:    opts,
		expires: b.now().Add(b.ttl),
	})
	b.mu.Unlock()
}

// Pending reports the number of parked packets for target.
func (b *BeaconBuffer) Pending(target string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	return len(b.pending[target])
}

// Flush delivers every live parked packet whose target is online, using
// deliver for the actual send. Undeliverable packets stay parked until their
// TTL runs out.
func (b *BeaconBuffer) Flush(ctx context.Context, deliver Handler) int {
	b.mu.Lock()
	b.pruneLocked()
	type job struct {
		target  string
		entries []beaconEntry
	}
	var jobs []job
	for target, entries := range b.pending {
		if b.presence.Online(target) {
			jobs = append(jobs, job{target, entries})
			delete(b.pending, target)
		}
	}
	b.mu.Unlock()

	flushed := 0
	for _, j := range jobs {
		for _, e := range j.entries {
			if deliver(ctx, e.packet, e.opts) {
				flushed++
				continue
			}
			b.log.Warn().Str("target", j.target).Str("packet", e.packet.ID).Msg("flush failed, reparking")
			b.mu.Lock()
			b.pending[j.target] = append(b.pending[j.target], e)
			b.mu.Unlock()
		}
	}
	return flushed
}

func (b *BeaconBuffer) pruneLocked() {
	now := b.now()
	for target, entries := range b.pending {
		live := entries[:0]
		for _, e := range entries {
			if e.expires.After(now) {
				live = append(live, e)
			}
		}
		if len(live) == 0 {
			delete(b.pending, target)
		} else {
			b.pending[target] = live
		}
	}
}
