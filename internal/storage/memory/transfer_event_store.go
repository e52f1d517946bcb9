package memory

import (
	"context"
	"sort"
	"sync"

	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/storage"
)

// TransferEventStore is an in-memory implementation of storage.TransferEventStore.
type TransferEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TransferEvent // keyed by signature
}

// NewTransferEventStore creates a new in-memory transfer event store.
func NewTransferEventStore() *TransferEventStore {
	return &TransferEventStore{
		data: make(map[string]*domain.TransferEvent),
	}
}

var _ storage.TransferEventStore = (*TransferEventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if the signature exists.
func (s *TransferEventStore) Insert(_ context.Context, e *domain.TransferEvent) error {
	if e == nil || e.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.Signature]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *e
	s.data[e.Signature] = &cp
	return nil
}

// GetBySignature retrieves an event by signature. Returns ErrNotFound if not exists.
func (s *TransferEventStore) GetBySignature(_ context.Context, signature string) (*domain.TransferEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[signature]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// GetByRecipient retrieves all events paying recipient, ordered by slot ASC.
func (s *TransferEventStore) GetByRecipient(_ context.Context, recipient string) ([]*domain.TransferEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TransferEvent
	for _, e := range s.data {
		if e.Recipient == recipient {
			cp := *e
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		return result[i].Signature < result[j].Signature
	})
	return result, nil
}
