// Package keys implements symbolic key derivation and the ephemeral
// per-session AES key lifecycle.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MaxAttempts is the number of failed derivations tolerated per
	// identity before lockout.
	MaxAttempts = 10
	// DefaultLockout is how long a locked-out identity stays blocked.
	DefaultLockout = 300 * time.Second
	// DefaultIterations is the key-stretch round count.
	DefaultIterations = 10000

	saltLen  = 16
	nonceLen = 12
)

// Adapter symbolically evaluates the seed material before stretching. The
// default adapter hashes; alternative policies plug in here without touching
// the stretch or lockout logic.
type Adapter interface {
	Evaluate(input string) string
}

type sha256Adapter struct{}

func (sha256Adapter) Evaluate(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// DeriveOpts carries the optional derivation inputs. The zero value means:
// anonymous, no seed phrase, salted, live entropy, default iterations.
type DeriveOpts struct {
	Identity     string
	Seed         string
	NoSalt       bool
	FixedEntropy *string
	Iterations   int
}

// Deriver derives 32-byte keys from symbolic inputs with per-identity
// brute-force lockout. Safe for concurrent use.
type Deriver struct {
	mu       sync.Mutex
	attempts map[string]int
	lockouts map[string]time.Time

	adapter    Adapter
	entropy    func() string
	lockout    time.Duration
	iterations int
	now        func() time.Time
	log        zerolog.Logger
}

// NewDeriver creates a Deriver with the default SHA-256 adapter and runtime
// entropy source.
func NewDeriver(log zerolog.Logger) *Deriver {
	return &Deriver{
		attempts:   make(map[string]int),
		lockouts:   make(map[string]time.Time),
		adapter:    sha256Adapter{},
		entropy:    runtimeEntropy,
		lockout:    DefaultLockout,
		iterations: DefaultIterations,
		now:        time.Now,
		log:        log.With().Str("component", "symbolic_kdf").Logger(),
	}
}

// SetAdapter replaces the symbolic evaluation adapter.
func (d *Deriver) SetAdapter(a Adapter) { d.adapter = a }

func runtimeEntropy() string {
	return fmt.Sprintf("pid:%d;mono:%d", os.Getpid(), time.Now().UnixNano())
}

// Derive produces a 32-byte key from (trust, emotion, timestamp) plus the
// options, or nil when inputs are invalid or the identity is locked out.
// Lockout is a soft failure: callers receive nil, never an error.
func (d *Deriver) Derive(trust, emotion, timestamp float64, opts DeriveOpts) []byte {
	if !numericOK(trust) || !numericOK(emotion) || !numericOK(timestamp) {
		d.log.Error().Str("identity", opts.Identity).Msg("derivation inputs not finite")
		d.recordFailure(opts.Identity)
		return nil
	}

	if opts.Identity != "" && d.lockedOut(opts.Identity) {
		d.log.Warn().Str("identity", opts.Identity).Msg("derivation blocked by lockout")
		return nil
	}

	entropyPart := d.entropy()
	if opts.FixedEntropy != nil {
		entropyPart = *opts.FixedEntropy
	}

	base := fmt.Sprintf("Trust:%v;Emotion:%v;Time:%v;Entropy:%s", trust, emotion, timestamp, entropyPart)
	if opts.Seed != "" {
		base += ";Seed:" + opts.Seed
	}

	material := []byte(d.adapter.Evaluate("⟦ Key : " + base + " ⟧"))
	if !opts.NoSalt {
		material = addSaltNonce(material)
	}

	iterations := opts.Iterations
	if iterations <= 0 {
		iterations = d.iterations
	}
	key := stretch(material, iterations)

	if opts.Identity != "" {
		d.clearAttempts(opts.Identity)
	}
	return key
}

// Verify re-derives with the same inputs and compares in constant time.
// Deterministic verification requires NoSalt and FixedEntropy in opts.
func (d *Deriver) Verify(key []byte, trust, emotion, timestamp float64, opts DeriveOpts) bool {
	derived := d.Derive(trust, emotion, timestamp, opts)
	if derived == nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived, key) == 1
}

func numericOK(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func addSaltNonce(material []byte) []byte {
	buf := make([]byte, saltLen+nonceLen+len(material))
	if _, err := rand.Read(buf[:saltLen+nonceLen]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	copy(buf[saltLen+nonceLen:], material)
	return buf
}

func stretch(material []byte, iterations int) []byte {
	out := material
	for range iterations {
		sum := sha256.Sum256(out)
		out = sum[:]
	}
	return out
}

func (d *Deriver) lockedOut(identity string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	expiry, ok := d.lockouts[identity]
	if !ok {
		return false
	}
	if d.now().Before(expiry) {
		return true
	}
	delete(d.lockouts, identity)
	d.attempts[identity] = 0
	return false
}

func (d *Deriver) recordFailure(identity string) {
	if identity == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts[identity]++
	if d.attempts[identity] >= MaxAttempts {
		d.lockouts[identity] = d.now().Add(d.lockout)
		d.log.Warn().Str("identity", identity).Int("attempts", d.attempts[identity]).Msg("identity locked out")
	}
}

func (d *Deriver) clearAttempts(identity string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.attempts, identity)
	delete(d.lockouts, identity)
}
