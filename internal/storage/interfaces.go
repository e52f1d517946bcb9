package storage

import (
	"context"

	"solana-wallet-monitor/internal/domain"
)

// ClassificationStore persists wallet classifications. One record per address.
type ClassificationStore interface {
	// Upsert inserts c or overwrites the existing record for c.Address.
	Upsert(ctx context.Context, c *domain.WalletClassification) error

	// GetByAddress retrieves the classification of address. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.WalletClassification, error)

	// ListFresh retrieves fresh wallets classified at or after since (Unix ms),
	// ordered by classified_at ASC.
	ListFresh(ctx context.Context, since int64) ([]*domain.WalletClassification, error)
}

// TransferEventStore persists resolved transfer events. Append-only, keyed by signature.
type TransferEventStore interface {
	// Insert adds a new event. Returns ErrDuplicateKey if the signature exists.
	Insert(ctx context.Context, e *domain.TransferEvent) error

	// GetBySignature retrieves an event by signature. Returns ErrNotFound if not exists.
	GetBySignature(ctx context.Context, signature string) (*domain.TransferEvent, error)

	// GetByRecipient retrieves all events paying recipient, ordered by slot ASC.
	GetByRecipient(ctx context.Context, recipient string) ([]*domain.TransferEvent, error)
}
