package postgres

import (
	"context"
	"fmt"

	"solana-wallet-monitor/internal/storage"
)

// WatchCursorStore is a PostgreSQL implementation of storage.WatchCursorStore
// backed by the watch_cursors table.
type WatchCursorStore struct {
	pool *Pool
}

// NewWatchCursorStore creates a new PostgreSQL watch cursor store.
func NewWatchCursorStore(pool *Pool) *WatchCursorStore {
	return &WatchCursorStore{pool: pool}
}

var _ storage.WatchCursorStore = (*WatchCursorStore)(nil)

// Get returns the cursor of address.
func (s *WatchCursorStore) Get(ctx context.Context, address string) (*storage.WatchCursor, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, signature, registered_at
		FROM watch_cursors
		WHERE address = $1
	`, address)

	var c storage.WatchCursor
	if err := row.Scan(&c.Address, &c.Signature, &c.RegisteredAt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get watch cursor: %w", err)
	}
	return &c, nil
}

// Set inserts or overwrites the cursor of c.Address.
func (s *WatchCursorStore) Set(ctx context.Context, c *storage.WatchCursor) error {
	if c == nil || c.Address == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO watch_cursors (address, signature, registered_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (address) DO UPDATE
		SET signature = EXCLUDED.signature,
		    registered_at = EXCLUDED.registered_at,
		    updated_at = NOW()
	`, c.Address, c.Signature, c.RegisteredAt)
	if err != nil {
		return fmt.Errorf("set watch cursor: %w", err)
	}
	return nil
}

// Delete removes the cursor of address.
func (s *WatchCursorStore) Delete(ctx context.Context, address string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM watch_cursors WHERE address = $1`, address); err != nil {
		return fmt.Errorf("delete watch cursor: %w", err)
	}
	return nil
}

// List returns every stored cursor ordered by registered_at ASC.
func (s *WatchCursorStore) List(ctx context.Context) ([]*storage.WatchCursor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, signature, registered_at
		FROM watch_cursors
		ORDER BY registered_at ASC, address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list watch cursors: %w", err)
	}
	defer rows.Close()

	var out []*storage.WatchCursor
	for rows.Next() {
		var c storage.WatchCursor
		if err := rows.Scan(&c.Address, &c.Signature, &c.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan watch cursor row: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
