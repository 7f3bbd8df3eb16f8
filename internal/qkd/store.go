package qkd

import (
	"sync"
	"time"
)

// PairKey addresses a GKey by the two endpoints it entangles.
type PairKey struct {
	Sender    string
	Recipient string
}

// Store is the in-memory GKey registry, indexed by wave id and by
// (sender, recipient) pair. A single mutex covers both maps.
type Store struct {
	mu     sync.Mutex
	byWave map[string]*GKey
	byPair map[PairKey]*GKey
	now    func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byWave: make(map[string]*GKey),
		byPair: make(map[PairKey]*GKey),
		now:    time.Now,
	}
}

// Put indexes k by its wave id.
func (s *Store) Put(k *GKey) {
	s.mu.Lock()
	s.byWave[k.WaveID] = k
	s.mu.Unlock()
}

// PutPair indexes k for the (sender, recipient) channel as well as by wave.
func (s *Store) PutPair(sender, recipient string, k *GKey) {
	s.mu.Lock()
	s.byWave[k.WaveID] = k
	s.byPair[PairKey{sender, recipient}] = k
	s.mu.Unlock()
}

// ByWave returns the key for waveID, or nil.
func (s *Store) ByWave(waveID string) *GKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byWave[waveID]
}

// ByPair returns the key for the (sender, recipient) channel, or nil.
func (s *Store) ByPair(sender, recipient string) *GKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byPair[PairKey{sender, recipient}]
}

// Drop removes the key for waveID from both indexes.
func (s *Store) Drop(waveID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byWave, waveID)
	for pk, k := range s.byPair {
		if k.WaveID == waveID {
			delete(s.byPair, pk)
		}
	}
}

// DetectTampering reports whether the channel between sender and recipient
// shows signs of interference: a missing or unverified side, or asymmetric
// collapse hashes / decoherence fingerprints between the two directions.
func (s *Store) DetectTampering(sender, recipient string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fwd := s.byPair[PairKey{sender, recipient}]
	rev := s.byPair[PairKey{recipient, sender}]
	if fwd == nil || rev == nil {
		return true
	}
	if !fwd.Verified || !rev.Verified {
		return true
	}
	if fwd.CollapseHash != rev.CollapseHash {
		return true
	}
	if fwd.DecoherenceFingerprint != rev.DecoherenceFingerprint {
		return true
	}
	return false
}
