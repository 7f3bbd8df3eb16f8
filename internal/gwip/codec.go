package gwip

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"

	"github.com/ssd-technologies/glyphnet/internal/crypto"
	"github.com/ssd-technologies/glyphnet/internal/gip"
	"github.com/ssd-technologies/glyphnet/internal/qkd"
)

// QKD outcome stamped on the envelope status field.
const (
	StatusQKDVerified = "qkd_verified"
	StatusQKDFailed   = "qkd_failed"
)

// Codec encodes GIP packets into GWIP envelopes. Signing and verification
// keys are optional; when absent, envelopes go out unsigned and decode skips
// the signature check.
type Codec struct {
	signPEM   []byte // RSA private key, PEM
	verifyPEM []byte // RSA public key, PEM
	hs        *qkd.Handshake
	store     *qkd.Store
	now       func() time.Time
	log       zerolog.Logger
}

// NewCodec builds a codec. hs and store may be nil when the QKD path is
// unused.
func NewCodec(hs *qkd.Handshake, store *qkd.Store, log zerolog.Logger) *Codec {
	return &Codec{
		hs:    hs,
		store: store,
		now:   time.Now,
		log:   log.With().Str("component", "gwip").Logger(),
	}
}

// SetSigningKeys installs the RSA keypair used for envelope signatures.
func (c *Codec) SetSigningKeys(privPEM, pubPEM []byte) {
	c.signPEM = privPEM
	c.verifyPEM = pubPEM
}

// Encode wraps a GIP packet: JSON, zlib, hex payload; SHA3-512 digest over
// the compressed bytes; optional RSA signature over the hex digest. When sign
// is true and no signing key is installed, the envelope goes out unsigned.
func (c *Codec) Encode(p *gip.Packet, hdr Header, sign bool) (*Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal packet: %w", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	compressed := buf.Bytes()

	if hdr.PacketID == "" {
		hdr.PacketID = p.ID
	}
	if hdr.Timestamp == 0 {
		hdr.Timestamp = float64(c.now().UnixNano()) / 1e9
	}

	digest := sha3.Sum512(compressed)
	env := &Envelope{
		Type:    "gwip",
		Schema:  SchemaVersion,
		Header:  hdr,
		Payload: hex.EncodeToString(compressed),
		Hash:    hex.EncodeToString(digest[:]),
	}

	if sign && len(c.signPEM) > 0 {
		sig, err := crypto.SignMessage([]byte(env.Hash), c.signPEM)
		if err != nil {
			return nil, fmt.Errorf("sign envelope: %w", err)
		}
		env.Signature = sig
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// EncodeWithQKD encodes and then runs a QKD handshake for the wave, stamping
// qkd_verified, status, and the negotiated GKey id. A failed handshake marks
// the envelope tampered rather than erroring; routing policy decides what to
// do with it.
func (c *Codec) EncodeWithQKD(p *gip.Packet, hdr Header, sender, receiver, wave string, sign bool) (*Envelope, error) {
	hdr.QKDRequired = true
	env, err := c.Encode(p, hdr, sign)
	if err != nil {
		return nil, err
	}
	if c.hs == nil {
		return nil, fmt.Errorf("qkd requested without a handshake")
	}

	entropy := mrand.Float64()
	trace := sender + "->" + receiver
	gkey := c.hs.Initiate(wave, trace, entropy)
	verified := c.hs.Verify(gkey, entropy, trace)

	env.QKDVerified = &verified
	env.Header.GKeyID = gkey.KeyID
	if verified {
		env.Status = StatusQKDVerified
		if c.store != nil {
			c.store.Put(gkey)
			c.store.PutPair(sender, receiver, gkey)
		}
	} else {
		env.Status = StatusQKDFailed
		env.TamperFlag = true
		c.log.Warn().Str("wave", wave).Str("trace", trace).Msg("qkd handshake failed during encode")
	}
	return env, nil
}

// Decode reconstructs the inner GIP packet. With verify set it recomputes the
// payload hash, checks the signature when a verification key is installed,
// and rejects envelopes whose QKD handshake is recorded as failed.
func (c *Codec) Decode(env *Envelope, verify bool) (*gip.Packet, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	compressed, err := hex.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload hex: %w", err)
	}

	if verify {
		digest := sha3.Sum512(compressed)
		if hex.EncodeToString(digest[:]) != env.Hash {
			return nil, fmt.Errorf("payload hash mismatch")
		}
		if len(c.verifyPEM) > 0 && env.Signature != "" {
			if !crypto.VerifySignature([]byte(env.Hash), env.Signature, c.verifyPEM) {
				return nil, fmt.Errorf("envelope signature invalid")
			}
		}
		if env.QKDVerified != nil && !*env.QKDVerified {
			return nil, qkd.ErrQKDViolation
		}
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}

	var p gip.Packet
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal packet: %w", err)
	}
	return &p, nil
}

// Upgrade wraps a GIP packet in a GWIP envelope addressed from its sender to
// its target, and Downgrade extracts it back. The pair round-trips byte-exact
// for plaintext payloads.
func (c *Codec) Upgrade(p *gip.Packet, carrier string, coherence float64) (*Envelope, error) {
	return c.Encode(p, Header{
		SourceContainer: p.Sender,
		TargetContainer: p.Target,
		CarrierType:     carrier,
		Coherence:       coherence,
	}, false)
}

// Downgrade extracts the inner GIP packet without verification.
func (c *Codec) Downgrade(env *Envelope) (*gip.Packet, error) {
	return c.Decode(env, false)
}
