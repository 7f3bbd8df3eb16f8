package keys

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultKeyTTL is the lifetime of an ephemeral session key.
	DefaultKeyTTL = 300 * time.Second
	// SweepInterval is how often the background sweep prunes expired keys.
	SweepInterval = 30 * time.Second
)

// Gate is a symbolic unlock condition on a locked session. A Get against a
// locked session succeeds only when the caller's context satisfies the gate;
// success clears the gate.
type Gate struct {
	MinTrust float64
	Phrase   string
}

// UnlockContext is presented by callers trying to read a locked session key.
type UnlockContext struct {
	Trust  float64
	Phrase string
}

// Satisfied reports whether ctx meets the gate's conditions.
func (g Gate) Satisfied(ctx UnlockContext) bool {
	if ctx.Trust < g.MinTrust {
		return false
	}
	if g.Phrase != "" && ctx.Phrase != g.Phrase {
		return false
	}
	return true
}

type sessionKey struct {
	key     []byte
	expires time.Time
}

// EphemeralKeyManager issues per-session AES-256 keys with TTL, symbolic
// unlock gates, and a background expiry sweep. Keys are mirrored into a
// Vault and mirror-deleted on expiry.
type EphemeralKeyManager struct {
	mu    sync.Mutex
	keys  map[string]sessionKey
	gates map[string]Gate

	deriver *Deriver
	vault   *Vault
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewEphemeralKeyManager creates a manager backed by the given deriver and
// vault mirror.
func NewEphemeralKeyManager(deriver *Deriver, vault *Vault, log zerolog.Logger) *EphemeralKeyManager {
	return &EphemeralKeyManager{
		keys:    make(map[string]sessionKey),
		gates:   make(map[string]Gate),
		deriver: deriver,
		vault:   vault,
		ttl:     DefaultKeyTTL,
		now:     time.Now,
		log:     log.With().Str("component", "ephemeral_keys").Logger(),
	}
}

// SetTTL overrides the key lifetime.
func (m *EphemeralKeyManager) SetTTL(ttl time.Duration) { m.ttl = ttl }

// GetOrCreate returns the live key for sessionID, deriving a new one from
// the symbolic parameters when absent or expired. Derivation failure falls
// back to a random key so a session is never left keyless.
func (m *EphemeralKeyManager) GetOrCreate(sessionID string, trust, emotion float64, seed string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.keys[sessionID]; ok && m.now().Before(entry.expires) {
		return entry.key, nil
	}

	ts := float64(m.now().UnixNano()) / 1e9
	key := m.deriver.Derive(trust, emotion, ts, DeriveOpts{Identity: sessionID, Seed: seed})
	if key == nil {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		m.log.Warn().Str("session", sessionID).Msg("symbolic derivation failed, issued random key")
	}

	m.keys[sessionID] = sessionKey{key: key, expires: m.now().Add(m.ttl)}
	m.vault.Put(sessionID, key)
	return key, nil
}

// Get returns the live key for sessionID, or nil when the key is missing,
// expired, or gated against the caller. A successful gated read clears the
// gate.
func (m *EphemeralKeyManager) Get(sessionID string, ctx *UnlockContext) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.keys[sessionID]
	if !ok {
		return nil
	}
	if !m.now().Before(entry.expires) {
		delete(m.keys, sessionID)
		m.vault.Delete(sessionID)
		return nil
	}

	if gate, locked := m.gates[sessionID]; locked {
		if ctx == nil || !gate.Satisfied(*ctx) {
			m.log.Debug().Str("session", sessionID).Msg("gated key access denied")
			return nil
		}
		delete(m.gates, sessionID)
	}
	return entry.key
}

// LockSession installs a symbolic unlock gate on sessionID.
func (m *EphemeralKeyManager) LockSession(sessionID string, gate Gate) {
	m.mu.Lock()
	m.gates[sessionID] = gate
	m.mu.Unlock()
}

// Revoke removes the key and any gate for sessionID.
func (m *EphemeralKeyManager) Revoke(sessionID string) {
	m.mu.Lock()
	delete(m.keys, sessionID)
	delete(m.gates, sessionID)
	m.mu.Unlock()
	m.vault.Delete(sessionID)
}

// Run sweeps expired keys every SweepInterval until ctx is done.
func (m *EphemeralKeyManager) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.sweep(); n > 0 {
				m.log.Info().Int("pruned", n).Msg("expired session keys pruned")
			}
		}
	}
}

func (m *EphemeralKeyManager) sweep() int {
	m.mu.Lock()
	var expired []string
	for id, entry := range m.keys {
		if !m.now().Before(entry.expires) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.keys, id)
		delete(m.gates, id)
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.vault.Delete(id)
	}
	return len(expired)
}
