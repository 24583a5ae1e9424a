// Package cache stores synthesized speech keyed by the text it was made from.
//
// The cache is bounded. When full, the entry with the lowest use count is
// evicted, ties going to the entry accessed longest ago. Every entry also
// expires after a fixed TTL regardless of how often it was used.
package cache

import (
	"sync"
	"time"
)

const (
	DefaultCapacity = 20
	DefaultTTL      = 30 * time.Minute
)

// Config holds cache limits.
type Config struct {
	Capacity int
	TTL      time.Duration // zero disables expiry

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

type entry struct {
	audio      []byte
	created    time.Time
	lastAccess time.Time
	uses       int
}

// Cache is an LFU cache with recency tiebreak and TTL expiry. It is safe
// for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	entries  map[string]*entry
}

// New creates a cache. Non-positive capacity falls back to DefaultCapacity.
func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		entries:  make(map[string]*entry, cfg.Capacity),
	}
}

// Get returns a copy of the audio stored under key. Expired entries are
// swept first. A hit refreshes the entry's access time and bumps its use
// count.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeLocked(now)

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.lastAccess = now
	e.uses++
	return append([]byte(nil), e.audio...), true
}

// Put stores a copy of audio under key, evicting if the cache is full.
// Replacing an existing key keeps its use count.
func (c *Cache) Put(key string, audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	data := append([]byte(nil), audio...)

	if e, ok := c.entries[key]; ok {
		e.audio = data
		e.created = now
		e.lastAccess = now
		return
	}

	c.purgeLocked(now)
	for len(c.entries) >= c.capacity {
		c.evictLocked()
	}
	c.entries[key] = &entry{audio: data, created: now, lastAccess: now}
}

// Clear removes every entry. Clearing an empty cache is a no-op.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// PurgeExpired removes expired entries and reports how many were dropped.
func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked(c.now())
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.capacity
}

func (c *Cache) purgeLocked(now time.Time) int {
	if c.ttl <= 0 {
		return 0
	}
	n := 0
	for k, e := range c.entries {
		if now.Sub(e.created) >= c.ttl {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// evictLocked drops the least used entry, oldest access first on ties.
func (c *Cache) evictLocked() {
	var (
		victim string
		worst  *entry
	)
	for k, e := range c.entries {
		if worst == nil ||
			e.uses < worst.uses ||
			(e.uses == worst.uses && e.lastAccess.Before(worst.lastAccess)) ||
			(e.uses == worst.uses && e.lastAccess.Equal(worst.lastAccess) && k < victim) {
			victim, worst = k, e
		}
	}
	if worst != nil {
		delete(c.entries, victim)
	}
}
