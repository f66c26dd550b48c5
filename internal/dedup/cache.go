// Package dedup implements the duplicate-suppression cache the Channel
// Manager uses to drop frames it has already seen within a time window.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// DefaultTTL is the default lifetime of a dedup entry.
	DefaultTTL = 30 * time.Second
	// DefaultMaxEntries is the default cap before oldest-entry eviction
	// kicks in.
	DefaultMaxEntries = 10000
)

// Fingerprint computes the dedup key over (src, dest, payload).
func Fingerprint(src, dest string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(src))
	h.Write([]byte{0})
	h.Write([]byte(dest))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	expiry time.Time
	src    string
}

// Cache is a TTL-based, size-bounded duplicate-suppression cache. At
// most one entry exists per key; eviction happens when an entry expires
// or when the cache exceeds maxEntries (oldest insertion evicted first).
// Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int

	entries map[string]entry
	order   []string // insertion order, for oldest-first eviction

	sourceCounts map[string]int // src -> number of live entries from that source
}

// New returns a Cache with the given TTL and max entry count. Zero
// values select the defaults.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		ttl:          ttl,
		maxEntries:   maxEntries,
		entries:      make(map[string]entry),
		sourceCounts: make(map[string]int),
	}
}

// SetTTL updates the TTL applied to entries recorded from now on.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// SetMaxEntries updates the capacity enforced on the next Remember call.
func (c *Cache) SetMaxEntries(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxEntries = n
}

// Seen reports whether fp is present and unexpired as of now, without
// mutating the cache.
func (c *Cache) Seen(fp string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	return ok && now.Before(e.expiry)
}

// Remember records fp (attributed to source src) with an expiry of
// now+TTL, evicting expired or, failing that, the oldest entry if the
// cache is at capacity.
func (c *Cache) Remember(fp, src string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[fp]; !exists {
		c.order = append(c.order, fp)
	} else {
		c.decrSource(c.entries[fp].src)
	}
	c.entries[fp] = entry{expiry: now.Add(c.ttl), src: src}
	c.sourceCounts[src]++

	c.evictLocked(now)
}

func (c *Cache) evictLocked(now time.Time) {
	// Expired entries first.
	for len(c.order) > 0 {
		fp := c.order[0]
		e, ok := c.entries[fp]
		if !ok {
			c.order = c.order[1:]
			continue
		}
		if now.Before(e.expiry) && len(c.entries) <= c.maxEntries {
			break
		}
		if !now.Before(e.expiry) || len(c.entries) > c.maxEntries {
			c.order = c.order[1:]
			delete(c.entries, fp)
			c.decrSource(e.src)
			continue
		}
		break
	}
}

func (c *Cache) decrSource(src string) {
	c.sourceCounts[src]--
	if c.sourceCounts[src] <= 0 {
		delete(c.sourceCounts, src)
	}
}

// Cleanup evicts every expired entry and returns how many were removed.
// Intended for the periodic dedup-GC background task.
func (c *Cache) Cleanup(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	kept := c.order[:0:0]
	for _, fp := range c.order {
		e, ok := c.entries[fp]
		if !ok {
			continue
		}
		if !now.Before(e.expiry) {
			delete(c.entries, fp)
			c.decrSource(e.src)
			removed++
			continue
		}
		kept = append(kept, fp)
	}
	c.order = kept
	return removed
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// UniqueSources returns the number of distinct sources with at least one
// live entry, reported as the uniqueStations metric.
func (c *Cache) UniqueSources() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sourceCounts)
}
