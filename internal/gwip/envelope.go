// Package gwip implements the GlyphWave envelope: the compressed, hashed,
// optionally signed wrapper around a GIP packet, plus the carrier and phase
// schedulers that annotate outbound envelopes.
package gwip

import (
	"encoding/hex"
	"fmt"
)

// SchemaVersion is the canonical envelope schema. Older peers emitting
// schema 3 envelopes are rejected; 2 is the single supported version.
const SchemaVersion = 2

const hashHexLen = 128 // SHA3-512

// Header is the routing envelope carried alongside the payload.
type Header struct {
	PacketID        string   `json:"packet_id"`
	SourceContainer string   `json:"source_container"`
	TargetContainer string   `json:"target_container"`
	CarrierType     string   `json:"carrier_type"`
	Freq            float64  `json:"freq"`
	Phase           float64  `json:"phase"`
	Coherence       float64  `json:"coherence"`
	Timestamp       float64  `json:"timestamp"`
	QKDRequired     bool     `json:"qkd_required,omitempty"`
	GKeyID          string   `json:"gkey_id,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// Envelope is the GWIP wire format. Payload is hex-encoded compressed bytes
// of the inner GIP packet JSON; Hash is the SHA3-512 hex digest of those
// compressed bytes.
type Envelope struct {
	Type      string `json:"type"`
	Schema    int    `json:"schema"`
	Header    Header `json:"envelope"`
	Payload   string `json:"payload"`
	Hash      string `json:"hash"`
	Signature string `json:"signature,omitempty"`

	QKDVerified *bool  `json:"qkd_verified,omitempty"`
	TamperFlag  bool   `json:"tamper_flag,omitempty"`
	Status      string `json:"status,omitempty"`

	// Phase-scheduler annotations.
	ScheduledAt float64 `json:"scheduled_at,omitempty"`
	Slot        int     `json:"slot,omitempty"`
	PLLOffset   float64 `json:"pll_offset,omitempty"`
	Jitter      float64 `json:"jitter,omitempty"`
	Drift       float64 `json:"drift,omitempty"`
	Gated       bool    `json:"gated,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// Validate checks the structural invariants of the envelope.
func (e *Envelope) Validate() error {
	if e.Type != "gwip" {
		return fmt.Errorf("envelope type %q, want gwip", e.Type)
	}
	if e.Schema != SchemaVersion {
		return fmt.Errorf("envelope schema %d, want %d", e.Schema, SchemaVersion)
	}
	if e.Header.PacketID == "" {
		return fmt.Errorf("envelope missing packet_id")
	}
	if e.Header.Coherence < 0 || e.Header.Coherence > 1 {
		return fmt.Errorf("coherence %v out of [0,1]", e.Header.Coherence)
	}
	if e.Payload == "" {
		return fmt.Errorf("envelope missing payload")
	}
	if _, err := hex.DecodeString(e.Payload); err != nil {
		return fmt.Errorf("payload is not hex: %w", err)
	}
	if len(e.Hash) != hashHexLen {
		return fmt.Errorf("hash length %d, want %d", len(e.Hash), hashHexLen)
	}
	if _, err := hex.DecodeString(e.Hash); err != nil {
		return fmt.Errorf("hash is not hex: %w", err)
	}
	return nil
}
