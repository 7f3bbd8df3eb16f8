package keys

import "sync"

// Vault is a thread-safe in-memory mirror of live session keys. It exists so
// other subsystems can look up key material without holding a reference to
// the ephemeral manager.
type Vault struct {
	mu sync.Mutex
	m  map[string][]byte
}

// NewVault creates an empty vault.
func NewVault() *Vault {
	return &Vault{m: make(map[string][]byte)}
}

// Put stores a copy of key under sessionID.
func (v *Vault) Put(sessionID string, key []byte) {
	cp := make([]byte, len(key))
	copy(cp, key)
	v.mu.Lock()
	v.m[sessionID] = cp
	v.mu.Unlock()
}

// Get returns the key for sessionID, or nil.
func (v *Vault) Get(sessionID string) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.m[sessionID]
}

// Delete removes the key for sessionID.
func (v *Vault) Delete(sessionID string) {
	v.mu.Lock()
	delete(v.m, sessionID)
	v.mu.Unlock()
}

// Len reports the number of stored keys.
func (v *Vault) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.m)
}
