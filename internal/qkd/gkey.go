// Package qkd implements the GKey session-key lifecycle: handshake,
// verification, renegotiation, tamper detection, and policy enforcement.
package qkd

import "time"

// GKey is the cryptographic identity of an entangled session. Once marked
// compromised a GKey never becomes valid again; entropy and coherence are
// zeroed so downstream scoring treats it as noise.
type GKey struct {
	KeyID                  string   `json:"key_id"`
	WaveID                 string   `json:"wave_id"`
	PublicPart             string   `json:"public_part"`
	PrivatePart            string   `json:"private_part"`
	CollapseToken          string   `json:"collapse_token"`
	Entropy                float64  `json:"entropy"`
	CoherenceLevel         float64  `json:"coherence_level"`
	DecoherenceFingerprint string   `json:"decoherence_fingerprint"`
	CollapseHash           string   `json:"collapse_hash"`
	OriginTrace            string   `json:"origin_trace"`
	EntropySeed            string   `json:"entropy_seed"`
	RenegotiatedFrom       string   `json:"renegotiated_from,omitempty"`
	IssuedAt               float64  `json:"issued_at"`
	ExpiresAt              float64  `json:"expires_at"`
	Verified               bool     `json:"verified"`
	Compromised            bool     `json:"compromised"`
}

// IsValid reports whether the key is uncompromised and unexpired at now.
func (k *GKey) IsValid(now time.Time) bool {
	if k == nil || k.Compromised {
		return false
	}
	return float64(now.UnixNano())/1e9 < k.ExpiresAt
}

// Compromise marks the key burned and zeroes its quality metrics.
func (k *GKey) Compromise() {
	k.Compromised = true
	k.Verified = false
	k.Entropy = 0
	k.CoherenceLevel = 0
}
