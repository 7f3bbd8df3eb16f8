package qkd

import (
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// ErrQKDViolation is returned when a packet demands QKD protection the
// current GKey material cannot provide.
var ErrQKDViolation = errors.New("qkd policy violation")

// Mode is the QKD requirement expressed by packet metadata.
type Mode int

const (
	// ModeOff means the packet does not request QKD.
	ModeOff Mode = iota
	// ModeRequired means a valid verified GKey must be present.
	ModeRequired
	// ModeStrict is ModeRequired plus one renegotiation attempt before
	// failing hard.
	ModeStrict
)

// ModeOf reads the qkd_required metadata field. Accepted truthy forms are
// boolean true and the strings "true" and "strict".
func ModeOf(meta map[string]any) Mode {
	switch v := meta["qkd_required"].(type) {
	case bool:
		if v {
			return ModeRequired
		}
	case string:
		switch v {
		case "strict":
			return ModeStrict
		case "true":
			return ModeRequired
		}
	}
	return ModeOff
}

// Enforcer applies QKD policy to outbound packets.
type Enforcer struct {
	hs    *Handshake
	store *Store
	now   func() time.Time
	log   zerolog.Logger
}

// NewEnforcer creates an Enforcer bound to a handshake engine and key store.
func NewEnforcer(hs *Handshake, store *Store, log zerolog.Logger) *Enforcer {
	return &Enforcer{
		hs:    hs,
		store: store,
		now:   time.Now,
		log:   log.With().Str("component", "qkd_policy").Logger(),
	}
}

// Enforce validates gkey against the packet's metadata and plaintext payload
// (nil when the payload is sealed). ModeOff packets pass unconditionally.
// In strict mode a single renegotiation is attempted before the violation
// becomes terminal.
func (e *Enforcer) Enforce(meta, payload map[string]any, gkey *GKey) error {
	mode := ModeOf(meta)
	if mode == ModeOff {
		return nil
	}

	err := e.check(meta, payload, gkey)
	if err == nil {
		return nil
	}

	if mode != ModeStrict {
		e.log.Warn().Err(err).Msg("qkd requirement not met")
		return fmt.Errorf("%w: %v", ErrQKDViolation, err)
	}

	renewed := e.renegotiate(meta, gkey)
	if rerr := e.check(meta, payload, renewed); rerr != nil {
		e.log.Warn().Err(rerr).Msg("qkd strict enforcement failed after renegotiation")
		return fmt.Errorf("%w: %v", ErrQKDViolation, rerr)
	}
	e.log.Info().Str("key", renewed.KeyID).Msg("qkd strict requirement satisfied by renegotiation")
	return nil
}

// check verifies key validity and integrity plus, when the plaintext payload
// is available, the packet-level fingerprint and collapse hash.
func (e *Enforcer) check(meta, payload map[string]any, gkey *GKey) error {
	if gkey == nil {
		return errors.New("no gkey for channel")
	}
	if !gkey.IsValid(e.now()) {
		return errors.New("gkey expired or compromised")
	}
	if !gkey.Verified {
		return errors.New("gkey not verified")
	}

	if err := VerifyFingerprint(gkey.DecoherenceFingerprint, WaveState{
		Entropy:     gkey.Entropy,
		Coherence:   gkey.CoherenceLevel,
		OriginTrace: gkey.OriginTrace,
	}); err != nil {
		gkey.Compromise()
		return err
	}
	if gkey.CollapseHash != collapseHashFor(gkey.WaveID, gkey.Entropy, gkey.OriginTrace) {
		gkey.Compromise()
		return errors.New("collapse hash does not bind to wave")
	}

	if payload != nil {
		if want, ok := meta["fingerprint"].(string); ok {
			if err := VerifyFingerprint(want, WaveStateFrom(payload)); err != nil {
				return err
			}
		}
		if want, ok := meta["collapse_hash"].(string); ok {
			if err := VerifyCollapseHash(want, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// renegotiate produces a verified replacement key. With no prior key an
// ad-hoc handshake is run from the metadata's wave identity.
func (e *Enforcer) renegotiate(meta map[string]any, gkey *GKey) *GKey {
	var renewed *GKey
	if gkey != nil {
		renewed = e.hs.Renegotiate(gkey)
	} else {
		waveID, _ := meta["wave_id"].(string)
		if waveID == "" {
			waveID = "adhoc"
		}
		trace, _ := meta["origin_trace"].(string)
		renewed = e.hs.Initiate(waveID, trace, mrand.Float64())
	}
	e.hs.Verify(renewed, renewed.Entropy, renewed.OriginTrace)
	e.store.Put(renewed)
	return renewed
}
