package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-monitor/internal/storage"
)

func TestWatchCursorStore_SetAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWatchCursorStore(pool)

	cursor := &storage.WatchCursor{
		Address:      "Wallet111",
		Signature:    "Sig100",
		RegisteredAt: 1704067200000,
	}
	require.NoError(t, store.Set(ctx, cursor))

	got, err := store.Get(ctx, "Wallet111")
	require.NoError(t, err)
	assert.Equal(t, cursor, got)
}

func TestWatchCursorStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewWatchCursorStore(pool).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWatchCursorStore_SetUpsert(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWatchCursorStore(pool)

	require.NoError(t, store.Set(ctx, &storage.WatchCursor{Address: "Wallet111", RegisteredAt: 1000}))
	require.NoError(t, store.Set(ctx, &storage.WatchCursor{Address: "Wallet111", Signature: "Sig200", RegisteredAt: 1000}))

	got, err := store.Get(ctx, "Wallet111")
	require.NoError(t, err)
	assert.Equal(t, "Sig200", got.Signature)
}

func TestWatchCursorStore_SetNil(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	err := NewWatchCursorStore(pool).Set(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestWatchCursorStore_DeleteAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWatchCursorStore(pool)

	for i, addr := range []string{"WalletC", "WalletA", "WalletB"} {
		require.NoError(t, store.Set(ctx, &storage.WatchCursor{Address: addr, RegisteredAt: int64(3000 - i*1000)}))
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "WalletB", list[0].Address)
	assert.Equal(t, "WalletA", list[1].Address)
	assert.Equal(t, "WalletC", list[2].Address)

	require.NoError(t, store.Delete(ctx, "WalletA"))
	require.NoError(t, store.Delete(ctx, "WalletA"), "deleting twice is not an error")

	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
