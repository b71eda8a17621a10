// Package cache provides the in-process query-response cache for SAGE.
//
// The cache memoises completed pipeline responses so repeat questions return
// in well under half a second. Keys are derived from the normalized question
// text plus the session scope; entries expire by TTL and the oldest entry by
// creation time is evicted when the cache is full.
//
// Usage:
//
//	qc := cache.NewQueryCache(cache.Config{MaxSize: 1000, DefaultTTL: time.Hour})
//	qc.Set("How many patients?", payload, sessionID, 0)
//	if entry, ok := qc.Get("how many patients", sessionID); ok { ... }
package cache

import (
	"strings"
	"sync"
	"time"
)

// Config holds configuration for the query cache.
type Config struct {
	// MaxSize is the maximum number of entries. Default 1000.
	MaxSize int

	// DefaultTTL applies when Set is called with a zero TTL. Default 1h.
	DefaultTTL time.Duration
}

// Entry is one memoised response.
type Entry struct {
	// Key is the normalized cache key including session scope.
	Key string

	// SessionID is the session the entry is scoped to, empty for global.
	SessionID string

	// Value is the serialised response payload.
	Value []byte

	// CreatedAt is the insertion time.
	CreatedAt time.Time

	// TTL is the entry lifetime.
	TTL time.Duration
}

// expired reports whether the entry has outlived its TTL at time now.
func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// Age returns how long the entry has been cached.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
}

// DetailedStats extends Stats with entry age distribution.
type DetailedStats struct {
	Stats

	OldestEntryAge  time.Duration `json:"oldest_entry_age"`
	NewestEntryAge  time.Duration `json:"newest_entry_age"`
	AverageEntryAge time.Duration `json:"average_entry_age"`
}

// QueryCache is a concurrency-safe in-process response cache.
type QueryCache struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	maxSize     int
	defaultTTL  time.Duration
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// NewQueryCache creates a query cache with the given configuration.
func NewQueryCache(cfg Config) *QueryCache {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 1000
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = time.Hour
	}
	return &QueryCache{
		entries:    make(map[string]*Entry),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
	}
}

// Normalize canonicalises question text for keying: lowercase, collapsed
// whitespace, trailing punctuation stripped. Normalize is idempotent.
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.Join(strings.Fields(text), " ")
	return strings.TrimRight(text, "?!. ")
}

// key derives the effective cache key. Session-scoped questions never
// collide with globally-scoped ones.
func key(text, sessionID string) string {
	if sessionID != "" {
		return "s:" + sessionID + "|" + Normalize(text)
	}
	return "g|" + Normalize(text)
}

// Get looks up a memoised response. Expired entries are deleted and counted
// as misses.
func (c *QueryCache) Get(text, sessionID string) (*Entry, bool) {
	k := key(text, sessionID)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[k]
	if !ok {
		c.misses++
		return nil, false
	}

	if entry.expired(now) {
		delete(c.entries, k)
		c.expirations++
		c.misses++
		return nil, false
	}

	c.hits++
	return entry, true
}

// Set memoises a response. A zero ttl uses the default. When the cache is at
// capacity the oldest entry by creation time is evicted first.
func (c *QueryCache) Set(text string, value []byte, sessionID string, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	k := key(text, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.entries[k] = &Entry{
		Key:       k,
		SessionID: sessionID,
		Value:     value,
		CreatedAt: time.Now(),
		TTL:       ttl,
	}
}

// Invalidate removes a single entry, reporting whether it existed.
func (c *QueryCache) Invalidate(text, sessionID string) bool {
	k := key(text, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[k]; !ok {
		return false
	}
	delete(c.entries, k)
	return true
}

// Clear drops every entry and resets the counters.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.hits = 0
	c.misses = 0
	c.evictions = 0
	c.expirations = 0
}

// CleanupExpired removes every expired entry and returns how many were removed.
func (c *QueryCache) CleanupExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, k)
			c.expirations++
			removed++
		}
	}
	return removed
}

// Len returns the current number of entries.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns the cache effectiveness counters.
func (c *QueryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statsLocked()
}

// DetailedStats returns Stats plus entry age distribution.
func (c *QueryCache) DetailedStats() DetailedStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	detailed := DetailedStats{Stats: c.statsLocked()}
	if len(c.entries) == 0 {
		return detailed
	}

	now := time.Now()
	var oldest, newest, total time.Duration
	first := true
	for _, entry := range c.entries {
		age := now.Sub(entry.CreatedAt)
		total += age
		if first {
			oldest, newest = age, age
			first = false
			continue
		}
		if age > oldest {
			oldest = age
		}
		if age < newest {
			newest = age
		}
	}

	detailed.OldestEntryAge = oldest
	detailed.NewestEntryAge = newest
	detailed.AverageEntryAge = total / time.Duration(len(c.entries))
	return detailed
}

// statsLocked assembles Stats. Callers must hold at least a read lock.
func (c *QueryCache) statsLocked() Stats {
	stats := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        len(c.entries),
		MaxSize:     c.maxSize,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// evictOldestLocked removes the entry with the earliest creation time.
// Callers must hold the write lock.
func (c *QueryCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, entry := range c.entries {
		if oldestKey == "" || entry.CreatedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = entry.CreatedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}
