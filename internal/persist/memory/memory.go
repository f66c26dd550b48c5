// Package memory is a dependency-free persist.Store used by tests and
// by deployments that don't need the BBS/chat state to survive a
// restart.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/na7dx/packetnode/internal/persist"
)

// Store is an in-memory, mutex-guarded persist.Store. Save is atomic in
// the sense that required by the interface (a Load never observes a
// torn write) because the whole value is replaced under one lock.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Load(_ context.Context, key string, out any) error {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return persist.ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) Save(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	return nil
}
