package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/jmerrifield20/minichain/internal/chain"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It does not survive restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]chain.Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[string][]chain.Record)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, name string, c *chain.Chain) error {
	recs := c.Records()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[name] = recs
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, name string) (*chain.Chain, error) {
	s.mu.RLock()
	recs, ok := s.chains[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load %q: %w", name, ErrNotFound)
	}
	return chain.Restore(slices.Clone(recs))
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.chains))
	for name := range s.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chains[name]; !ok {
		return fmt.Errorf("delete %q: %w", name, ErrNotFound)
	}
	delete(s.chains, name)
	return nil
}
