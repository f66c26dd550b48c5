package chatsync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DefaultSeenTTL bounds how long a message hash is remembered for
// dedup before it's purged.
const DefaultSeenTTL = time.Hour

// Hash computes the dedup fingerprint for a synced message.
func Hash(msgID, serverID, username, text string, timestamp int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d", msgID, serverID, username, text, timestamp)
	return hex.EncodeToString(h.Sum(nil))
}

type seenEntry struct {
	at time.Time
}

// SeenSet tracks message hashes already processed, so a rebroadcast
// mesh packet arriving back at its origin (or relayed in a cycle)
// isn't delivered twice.
type SeenSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]seenEntry
}

// NewSeenSet returns a SeenSet using DefaultSeenTTL.
func NewSeenSet() *SeenSet {
	return &SeenSet{ttl: DefaultSeenTTL, entries: make(map[string]seenEntry)}
}

// SeenOrRecord reports whether hash has already been recorded; if not,
// it records it and returns false.
func (s *SeenSet) SeenOrRecord(hash string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[hash]; ok && now.Sub(e.at) < s.ttl {
		return true
	}
	s.entries[hash] = seenEntry{at: now}
	return false
}

// Purge drops hashes older than the TTL, returning how many were
// removed.
func (s *SeenSet) Purge(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for h, e := range s.entries {
		if now.Sub(e.at) >= s.ttl {
			delete(s.entries, h)
			removed++
		}
	}
	return removed
}
