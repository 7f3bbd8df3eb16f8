// Package gip implements the Glyph Internet Protocol packet: construction,
// optional encryption wrapping, the JSON+base64 wire codec, canonical
// deduplication identifiers, and the dedup cache.
package gip

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload encryption suffixes appended to the packet type tag. The tag is the
// wire discriminator for the payload variant.
const (
	SuffixRSA       = "_encrypted"
	SuffixEphemeral = "_encrypted_aes_ephemeral"
)

// DefaultType is the packet type used when the caller does not pick one.
const DefaultType = "glyph_push"

// Packet is the GIP wire envelope. Payload is either a plaintext JSON object
// or a SealedPayload, discriminated by the Type suffix.
type Packet struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Sender    string         `json:"sender"`
	Target    string         `json:"target,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp float64        `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SealedPayload is an encrypted payload bundle. RSA payloads carry only
// Ciphertext; AES payloads carry Nonce, Tag, and Ciphertext. All fields are
// base64.
type SealedPayload struct {
	Nonce      string `json:"nonce,omitempty"`
	Tag        string `json:"tag,omitempty"`
	Ciphertext string `json:"ciphertext"`
	Salt       string `json:"salt,omitempty"`
}

// Encrypted reports whether the payload is sealed.
func (p *Packet) Encrypted() bool {
	return strings.HasSuffix(p.Type, SuffixEphemeral) || strings.HasSuffix(p.Type, SuffixRSA)
}

// BaseType returns the packet type with any encryption suffix removed.
func (p *Packet) BaseType() string {
	if s, ok := strings.CutSuffix(p.Type, SuffixEphemeral); ok {
		return s
	}
	if s, ok := strings.CutSuffix(p.Type, SuffixRSA); ok {
		return s
	}
	return p.Type
}

// Sealed decodes the payload as a SealedPayload. It fails on plaintext
// packets.
func (p *Packet) Sealed() (*SealedPayload, error) {
	if !p.Encrypted() {
		return nil, fmt.Errorf("packet type %q is not encrypted", p.Type)
	}
	var sealed SealedPayload
	if err := json.Unmarshal(p.Payload, &sealed); err != nil {
		return nil, fmt.Errorf("decode sealed payload: %w", err)
	}
	return &sealed, nil
}

// PlainPayload decodes the payload as a plaintext object. It fails on sealed
// packets; decrypt first.
func (p *Packet) PlainPayload() (map[string]any, error) {
	if p.Encrypted() {
		return nil, fmt.Errorf("packet type %q is encrypted", p.Type)
	}
	var payload map[string]any
	if err := json.Unmarshal(p.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}
