package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/storage"
)

// ClassificationStore is an in-memory implementation of storage.ClassificationStore.
type ClassificationStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WalletClassification // keyed by address
}

// NewClassificationStore creates a new in-memory classification store.
func NewClassificationStore() *ClassificationStore {
	return &ClassificationStore{
		data: make(map[string]*domain.WalletClassification),
	}
}

var _ storage.ClassificationStore = (*ClassificationStore)(nil)

// Upsert inserts c or overwrites the existing record for c.Address.
func (s *ClassificationStore) Upsert(_ context.Context, c *domain.WalletClassification) error {
	if c == nil || c.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.data[c.Address] = &cp
	return nil
}

// GetByAddress retrieves the classification of address. Returns ErrNotFound if not exists.
func (s *ClassificationStore) GetByAddress(_ context.Context, address string) (*domain.WalletClassification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ListFresh retrieves fresh wallets classified at or after since.
func (s *ClassificationStore) ListFresh(_ context.Context, since int64) ([]*domain.WalletClassification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.WalletClassification
	for _, c := range s.data {
		if c.IsFresh && c.ClassifiedAt >= since {
			cp := *c
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ClassifiedAt != result[j].ClassifiedAt {
			return result[i].ClassifiedAt < result[j].ClassifiedAt
		}
		return result[i].Address < result[j].Address
	})
	return result, nil
}
