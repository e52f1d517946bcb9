package storage

import "context"

// WatchCursor is the polling position of one watched wallet.
type WatchCursor struct {
	Address      string
	Signature    string // newest processed signature, empty before the first poll
	RegisteredAt int64  // Unix timestamp in milliseconds
}

// WatchCursorStore persists the watch set so polling resumes after a restart
// without reprocessing signatures.
type WatchCursorStore interface {
	// Get returns the cursor of address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, address string) (*WatchCursor, error)

	// Set inserts or overwrites the cursor of c.Address.
	Set(ctx context.Context, c *WatchCursor) error

	// Delete removes the cursor of address. Deleting a missing cursor is not an error.
	Delete(ctx context.Context, address string) error

	// List returns every stored cursor ordered by registered_at ASC.
	List(ctx context.Context) ([]*WatchCursor, error)
}
