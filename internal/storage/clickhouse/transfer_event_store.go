package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/storage"
)

// TransferEventStore implements storage.TransferEventStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by signature; duplicates are
// rejected by an explicit check before insert.
type TransferEventStore struct {
	conn *Conn
}

// NewTransferEventStore creates a new TransferEventStore.
func NewTransferEventStore(conn *Conn) *TransferEventStore {
	return &TransferEventStore{conn: conn}
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

	exists, err := s.exists(ctx, e.Signature)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO transfer_events (
			signature, slot, block_time, source, recipient, amount, success
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	var success uint8
	if e.Success {
		success = 1
	}
	if err := batch.Append(
		e.Signature, uint64(e.Slot), e.BlockTime,
		e.Source, e.Recipient, e.Amount, success,
	); err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetBySignature retrieves an event by signature. Returns ErrNotFound if not exists.
func (s *TransferEventStore) GetBySignature(ctx context.Context, signature string) (*domain.TransferEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT signature, slot, block_time, source, recipient, amount, success
		FROM transfer_events FINAL
		WHERE signature = ?
		LIMIT 1
	`, signature)
	if err != nil {
		return nil, fmt.Errorf("query by signature: %w", err)
	}
	defer rows.Close()

	events, err := scanTransferEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, storage.ErrNotFound
	}
	return events[0], nil
}

// GetByRecipient retrieves all events paying recipient, ordered by slot ASC.
func (s *TransferEventStore) GetByRecipient(ctx context.Context, recipient string) ([]*domain.TransferEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT signature, slot, block_time, source, recipient, amount, success
		FROM transfer_events FINAL
		WHERE recipient = ?
		ORDER BY slot ASC, signature ASC
	`, recipient)
	if err != nil {
		return nil, fmt.Errorf("query by recipient: %w", err)
	}
	defer rows.Close()

	return scanTransferEvents(rows)
}

func (s *TransferEventStore) exists(ctx context.Context, signature string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM transfer_events
		WHERE signature = ?
	`, signature).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanTransferEvents(rows driver.Rows) ([]*domain.TransferEvent, error) {
	var out []*domain.TransferEvent
	for rows.Next() {
		var (
			e       domain.TransferEvent
			slot    uint64
			success uint8
		)
		if err := rows.Scan(&e.Signature, &slot, &e.BlockTime, &e.Source, &e.Recipient, &e.Amount, &success); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Slot = int64(slot)
		e.Success = success == 1
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
