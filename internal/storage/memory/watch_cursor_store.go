package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-monitor/internal/storage"
)

// WatchCursorStore is an in-memory implementation of storage.WatchCursorStore.
type WatchCursorStore struct {
	mu      sync.RWMutex
	cursors map[string]storage.WatchCursor
}

// NewWatchCursorStore creates a new in-memory watch cursor store.
func NewWatchCursorStore() *WatchCursorStore {
	return &WatchCursorStore{
		cursors: make(map[string]storage.WatchCursor),
	}
}

var _ storage.WatchCursorStore = (*WatchCursorStore)(nil)

// Get returns the cursor of address.
func (s *WatchCursorStore) Get(_ context.Context, address string) (*storage.WatchCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

// Set inserts or overwrites the cursor of c.Address.
func (s *WatchCursorStore) Set(_ context.Context, c *storage.WatchCursor) error {
	if c == nil || c.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[c.Address] = *c
	return nil
}

// Delete removes the cursor of address.
func (s *WatchCursorStore) Delete(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cursors, address)
	return nil
}

// List returns every stored cursor ordered by registered_at ASC.
func (s *WatchCursorStore) List(_ context.Context) ([]*storage.WatchCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.WatchCursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		cp := c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt != out[j].RegisteredAt {
			return out[i].RegisteredAt < out[j].RegisteredAt
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}
