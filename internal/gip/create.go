package gip

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/glyphnet/internal/crypto"
	"github.com/ssd-technologies/glyphnet/internal/keys"
	"github.com/ssd-technologies/glyphnet/internal/qkd"
)

// Symbolic parameters used when the ephemeral encryption path has to mint a
// session key on the fly.
const (
	ephemeralTrust   = 0.7
	ephemeralEmotion = 0.5
)

// CreateOptions controls packet construction. Encryption method priority:
// RSA when PublicKeyPEM is set, otherwise ephemeral AES when
// EphemeralSession is set.
type CreateOptions struct {
	Type             string
	Encrypt          bool
	PublicKeyPEM     []byte
	EphemeralSession string
	Ephemeral        *keys.EphemeralKeyManager
	Metadata         map[string]any
}

// Create builds a GIP packet around payload. When the metadata requests QKD
// the plaintext payload's decoherence fingerprint and collapse hash are
// attached before any sealing, so receivers can verify integrity after
// decryption.
func Create(payload map[string]any, sender, target string, opts CreateOptions) (*Packet, error) {
	ptype := opts.Type
	if ptype == "" {
		ptype = DefaultType
	}

	p := &Packet{
		ID:        uuid.NewString(),
		Type:      ptype,
		Sender:    sender,
		Target:    target,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Metadata:  opts.Metadata,
	}

	if qkd.ModeOf(p.Metadata) != qkd.ModeOff {
		p.Metadata["fingerprint"] = qkd.DecoherenceFingerprint(qkd.WaveStateFrom(payload))
		p.Metadata["collapse_hash"] = qkd.CollapseHash(payload)
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	switch {
	case opts.Encrypt && len(opts.PublicKeyPEM) > 0:
		ct, err := crypto.RSAEncrypt(plaintext, opts.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		if err := p.setSealed(SealedPayload{Ciphertext: base64.StdEncoding.EncodeToString(ct)}); err != nil {
			return nil, err
		}
		p.Type = ptype + SuffixRSA

	case opts.Encrypt && opts.EphemeralSession != "":
		if opts.Ephemeral == nil {
			return nil, fmt.Errorf("ephemeral session %q requested without a key manager", opts.EphemeralSession)
		}
		seed := fmt.Sprintf("GIP:%s->%s", sender, opts.EphemeralSession)
		key, err := opts.Ephemeral.GetOrCreate(opts.EphemeralSession, ephemeralTrust, ephemeralEmotion, seed)
		if err != nil {
			return nil, fmt.Errorf("ephemeral key: %w", err)
		}
		nonce, tag, ct, err := crypto.AESEncrypt(plaintext, key)
		if err != nil {
			return nil, err
		}
		if err := p.setSealed(SealedPayload{
			Nonce:      base64.StdEncoding.EncodeToString(nonce),
			Tag:        base64.StdEncoding.EncodeToString(tag),
			Ciphertext: base64.StdEncoding.EncodeToString(ct),
		}); err != nil {
			return nil, err
		}
		p.Type = ptype + SuffixEphemeral

	case opts.Encrypt:
		return nil, fmt.Errorf("encryption requested without a public key or ephemeral session")

	default:
		p.Payload = plaintext
	}

	return p, nil
}

func (p *Packet) setSealed(sealed SealedPayload) error {
	data, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("marshal sealed payload: %w", err)
	}
	p.Payload = data
	return nil
}

// DecryptEphemeral opens an AES-ephemeral packet with the session's live key.
// A missing, expired, or gated key yields an error.
func DecryptEphemeral(p *Packet, sessionID string, mgr *keys.EphemeralKeyManager, unlock *keys.UnlockContext) (map[string]any, error) {
	sealed, err := p.Sealed()
	if err != nil {
		return nil, err
	}
	key := mgr.Get(sessionID, unlock)
	if key == nil {
		return nil, fmt.Errorf("no live key for session %q", sessionID)
	}
	return openAES(sealed, key)
}

// DecryptRSA opens an RSA-encrypted packet with the recipient's private key.
func DecryptRSA(p *Packet, privPEM []byte) (map[string]any, error) {
	sealed, err := p.Sealed()
	if err != nil {
		return nil, err
	}
	ct, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := crypto.RSADecrypt(ct, privPEM)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func openAES(sealed *SealedPayload, key []byte) (map[string]any, error) {
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(sealed.Tag)
	if err != nil {
		return nil, fmt.Errorf("decode tag: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := crypto.AESDecrypt(nonce, tag, ct, key)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}
