package gip

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Encode serializes a packet to JSON and wraps it in base64 for transports
// that want printable frames. Decode is the exact inverse.
func Encode(p *Packet) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal packet: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode reverses Encode. Sealed payloads are not decrypted here; callers
// hold the key material.
func Decode(encoded string) (*Packet, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal packet: %w", err)
	}
	return &p, nil
}
