package qkd

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultGKeyTTL is the lifetime of a freshly negotiated GKey.
const DefaultGKeyTTL = time.Hour

// Handshake negotiates, verifies, and renegotiates GKeys.
type Handshake struct {
	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// NewHandshake creates a Handshake with the default key TTL.
func NewHandshake(log zerolog.Logger) *Handshake {
	return &Handshake{
		ttl: DefaultGKeyTTL,
		now: time.Now,
		log: log.With().Str("component", "qkd").Logger(),
	}
}

// collapseHashFor is the binding between a wave, its entropy sample, and its
// origin trace. Entropy is fixed to six decimals so both ends agree on the
// preimage.
func collapseHashFor(waveID string, entropy float64, originTrace string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%.6f|%s", waveID, entropy, originTrace))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// Initiate performs the opening half of the handshake and returns an
// unverified GKey. Coherence is sampled uniformly in [0.90, 1.00].
func (h *Handshake) Initiate(waveID, originTrace string, entropy float64) *GKey {
	now := h.now()
	coherence := 0.90 + mrand.Float64()*0.10

	k := &GKey{
		KeyID:          uuid.NewString(),
		WaveID:         waveID,
		PublicPart:     randomHex(16),
		PrivatePart:    randomHex(32),
		CollapseToken:  randomHex(8),
		Entropy:        entropy,
		CoherenceLevel: coherence,
		CollapseHash:   collapseHashFor(waveID, entropy, originTrace),
		OriginTrace:    originTrace,
		EntropySeed:    randomHex(8),
		IssuedAt:       float64(now.UnixNano()) / 1e9,
		ExpiresAt:      float64(now.Add(h.ttl).UnixNano()) / 1e9,
	}
	k.DecoherenceFingerprint = DecoherenceFingerprint(WaveState{
		Entropy:     entropy,
		Coherence:   coherence,
		OriginTrace: originTrace,
	})

	h.log.Debug().Str("wave", waveID).Str("key", k.KeyID).Float64("coherence", coherence).Msg("handshake initiated")
	return k
}

// Verify checks the observed collapse against the key's recorded hash. On
// mismatch the key is marked compromised and false is returned.
func (h *Handshake) Verify(k *GKey, observedEntropy float64, traceSignature string) bool {
	expected := collapseHashFor(k.WaveID, observedEntropy, traceSignature)
	if expected != k.CollapseHash {
		k.Compromise()
		h.log.Warn().Str("wave", k.WaveID).Str("key", k.KeyID).Msg("collapse verification failed, key compromised")
		return false
	}
	k.Verified = true
	return true
}

// Renegotiate issues a fresh GKey for the same wave and origin trace with
// new entropy, linked to the old key via RenegotiatedFrom.
func (h *Handshake) Renegotiate(old *GKey) *GKey {
	entropy := mrand.Float64()
	fresh := h.Initiate(old.WaveID, old.OriginTrace, entropy)
	fresh.RenegotiatedFrom = old.KeyID
	h.log.Info().Str("wave", old.WaveID).Str("old", old.KeyID).Str("new", fresh.KeyID).Msg("gkey renegotiated")
	return fresh
}
