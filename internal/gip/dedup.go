package gip

import (
	"sync"
	"time"
)

// DefaultDedupTTL is how long a message id is remembered.
const DefaultDedupTTL = 60 * time.Second

// DedupCache is a TTL cache of canonical message ids. Check-and-mark is
// atomic under one mutex so concurrent retransmissions of the same id race
// safely; expired entries are pruned lazily on every call.
type DedupCache struct {
	mu  sync.Mutex
	m   map[string]time.Time
	ttl time.Duration
	now func() time.Time
}

// NewDedupCache creates a cache with the given TTL (DefaultDedupTTL when
// zero).
func NewDedupCache(ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupCache{
		m:   make(map[string]time.Time),
		ttl: ttl,
		now: time.Now,
	}
}

// CheckAndMark reports whether msgID was already seen within the TTL and, if
// not, marks it seen. The check and the mark are one atomic step.
func (c *DedupCache) CheckAndMark(msgID string) (duplicate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	if _, ok := c.m[msgID]; ok {
		return true
	}
	c.m[msgID] = c.now().Add(c.ttl)
	return false
}

// Seen reports whether msgID is currently remembered, without marking.
func (c *DedupCache) Seen(msgID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	_, ok := c.m[msgID]
	return ok
}

// Len reports the number of live entries.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	return len(c.m)
}

// prune removes expired entries. Callers hold the mutex.
func (c *DedupCache) prune() {
	now := c.now()
	for id, expiry := range c.m {
		if !now.Before(expiry) {
			delete(c.m, id)
		}
	}
}
