package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/storage"
)

// TransferEventStore implements storage.TransferEventStore using PostgreSQL.
type TransferEventStore struct {
	pool *Pool
}

// NewTransferEventStore creates a new TransferEventStore.
func NewTransferEventStore(pool *Pool) *TransferEventStore {
	return &TransferEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransferEventStore = (*TransferEventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if the signature exists.
func (s *TransferEventStore) Insert(ctx context.Context, e *domain.TransferEvent) (err error) {
	if e == nil || e.Signature == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("insert_transfer", start, err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO transfer_events (
			signature, slot, block_time, source, recipient, amount, success
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		e.Signature,
		e.Slot,
		e.BlockTime,
		e.Source,
		e.Recipient,
		e.Amount,
		e.Success,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transfer event: %w", err)
	}
	return nil
}

// GetBySignature retrieves an event by signature. Returns ErrNotFound if not exists.
func (s *TransferEventStore) GetBySignature(ctx context.Context, signature string) (*domain.TransferEvent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT signature, slot, block_time, source, recipient, amount, success
		FROM transfer_events
		WHERE signature = $1
	`, signature)

	e, err := scanTransferEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transfer event by signature: %w", err)
	}
	return e, nil
}

// GetByRecipient retrieves all events paying recipient, ordered by slot ASC.
func (s *TransferEventStore) GetByRecipient(ctx context.Context, recipient string) ([]*domain.TransferEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT signature, slot, block_time, source, recipient, amount, success
		FROM transfer_events
		WHERE recipient = $1
		ORDER BY slot ASC, signature ASC
	`, recipient)
	if err != nil {
		return nil, fmt.Errorf("get transfer events by recipient: %w", err)
	}
	defer rows.Close()

	var out []*domain.TransferEvent
	for rows.Next() {
		e, err := scanTransferEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer event row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer event rows: %w", err)
	}
	return out, nil
}

func scanTransferEvent(row pgx.Row) (*domain.TransferEvent, error) {
	var e domain.TransferEvent
	if err := row.Scan(
		&e.Signature,
		&e.Slot,
		&e.BlockTime,
		&e.Source,
		&e.Recipient,
		&e.Amount,
		&e.Success,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
