package qkd

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFingerprintMismatch is returned when a captured fingerprint or collapse
// hash does not match the recomputed value.
var ErrFingerprintMismatch = errors.New("fingerprint mismatch")

// WaveState is the subset of wave fields covered by the decoherence
// fingerprint.
type WaveState struct {
	Entropy     float64
	Coherence   float64
	OriginTrace string
	QGlyphs     []string
}

func (w WaveState) asMap() map[string]any {
	qglyphs := w.QGlyphs
	if qglyphs == nil {
		qglyphs = []string{}
	}
	return map[string]any{
		"entropy":      w.Entropy,
		"coherence":    w.Coherence,
		"origin_trace": w.OriginTrace,
		"qglyphs":      qglyphs,
	}
}

// WaveStateFrom extracts the fingerprinted fields from a generic payload.
// Missing fields take their zero values so fingerprints stay stable across
// sparse payloads.
func WaveStateFrom(payload map[string]any) WaveState {
	var w WaveState
	if v, ok := payload["entropy"].(float64); ok {
		w.Entropy = v
	}
	if v, ok := payload["coherence"].(float64); ok {
		w.Coherence = v
	}
	if v, ok := payload["origin_trace"].(string); ok {
		w.OriginTrace = v
	}
	switch v := payload["qglyphs"].(type) {
	case []string:
		w.QGlyphs = v
	case []any:
		for _, g := range v {
			if s, ok := g.(string); ok {
				w.QGlyphs = append(w.QGlyphs, s)
			}
		}
	}
	return w
}

// hashCanonical hashes the canonical (key-sorted) JSON form of m and returns
// the URL-safe base64 digest.
func hashCanonical(m map[string]any) string {
	// encoding/json sorts map keys, which is exactly the canonical form.
	data, err := json.Marshal(m)
	if err != nil {
		data = fmt.Appendf(nil, "%v", m)
	}
	sum := sha256.Sum256(data)
	return base64.URLEncoding.EncodeToString(sum[:])
}

// DecoherenceFingerprint derives the stable fingerprint of a wave state.
func DecoherenceFingerprint(w WaveState) string {
	return hashCanonical(w.asMap())
}

// CollapseHash derives the stable hash of a payload's (codex, symbolic_tree)
// tuple.
func CollapseHash(payload map[string]any) string {
	return hashCanonical(map[string]any{
		"codex":         payload["codex"],
		"symbolic_tree": payload["symbolic_tree"],
	})
}

// VerifyFingerprint recomputes the fingerprint for w and compares it against
// expected in constant time.
func VerifyFingerprint(expected string, w WaveState) error {
	actual := DecoherenceFingerprint(w)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) != 1 {
		return fmt.Errorf("decoherence %w", ErrFingerprintMismatch)
	}
	return nil
}

// VerifyCollapseHash recomputes the collapse hash for payload and compares it
// against expected in constant time.
func VerifyCollapseHash(expected string, payload map[string]any) error {
	actual := CollapseHash(payload)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) != 1 {
		return fmt.Errorf("collapse %w", ErrFingerprintMismatch)
	}
	return nil
}
