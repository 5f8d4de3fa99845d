// Package cache stores generated responses keyed by a fingerprint of the
// request that produced them.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/personagen/pkg/llm"
)

// Config controls caching behavior.
type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// DefaultConfig returns the default cache settings.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		TTL:        10 * time.Minute,
		MaxEntries: 1000,
	}
}

// Stats reports cache counters.
type Stats struct {
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
	HitRate   float64 `json:"hit_rate"`
}

type entry struct {
	key        string
	resp       *llm.GenerationResponse
	insertedAt time.Time
	ttl        time.Duration
	elem       *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.insertedAt) >= e.ttl
}

// Cache is a TTL-bounded response cache with oldest-insertion eviction.
// Expiry is checked on read. Safe for concurrent use; stored and returned
// responses are deep copies.
type Cache struct {
	maxEntries int
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	order   *list.List // front = oldest insertion

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

// New creates a cache holding at most maxEntries responses. A non-positive
// bound disables eviction.
func New(maxEntries int) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*entry),
		order:      list.New(),
	}
}

// Get returns a copy of the response stored under key. Expired entries are
// removed and reported as a miss.
func (c *Cache) Get(key string) (*llm.GenerationResponse, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	if ok && !e.expired(now) {
		resp := e.resp.Clone()
		c.mu.RUnlock()
		c.hits.Add(1)
		return resp, true
	}
	c.mu.RUnlock()

	if ok {
		c.mu.Lock()
		// Recheck: a concurrent Set may have replaced the entry.
		if e, ok := c.entries[key]; ok && e.expired(now) {
			c.removeLocked(e)
			c.expired.Add(1)
		}
		c.mu.Unlock()
	}
	c.misses.Add(1)
	return nil, false
}

// Set stores a copy of resp under key for ttl. A non-positive ttl never
// expires. Re-setting a key counts as a new insertion.
func (c *Cache) Set(key string, resp *llm.GenerationResponse, ttl time.Duration) {
	if resp == nil {
		return
	}
	e := &entry{
		key:        key,
		resp:       resp.Clone(),
		insertedAt: c.now(),
		ttl:        ttl,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e

	for c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		oldest := c.order.Front().Value.(*entry)
		c.removeLocked(oldest)
		c.evictions.Add(1)
	}
}

// InvalidateByProvider drops every entry generated by the named provider
// and returns how many were removed.
func (c *Cache) InvalidateByProvider(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	for _, e := range c.entries {
		if e.resp.Provider == name {
			c.removeLocked(e)
			n++
		}
	}
	return n
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order.Init()
}

// Len returns the number of stored entries, including expired ones not yet read.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// removeLocked unlinks e. Caller holds c.mu for writing.
func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.order.Remove(e.elem)
}
