package memory

import (
	"context"
	"errors"
	"testing"

	"solana-wallet-monitor/internal/storage"
)

func TestWatchCursorStore_SetGetDelete(t *testing.T) {
	store := NewWatchCursorStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "wallet1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set(ctx, &storage.WatchCursor{Address: "wallet1", RegisteredAt: 1000}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, &storage.WatchCursor{Address: "wallet1", Signature: "sig9", RegisteredAt: 1000}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "wallet1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Signature != "sig9" {
		t.Errorf("Signature mismatch: got %s, want sig9", got.Signature)
	}

	if err := store.Delete(ctx, "wallet1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "wallet1"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "wallet1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestWatchCursorStore_List(t *testing.T) {
	store := NewWatchCursorStore()
	ctx := context.Background()

	_ = store.Set(ctx, &storage.WatchCursor{Address: "b", RegisteredAt: 2000})
	_ = store.Set(ctx, &storage.WatchCursor{Address: "a", RegisteredAt: 1000})

	got, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0].Address != "a" || got[1].Address != "b" {
		t.Errorf("unexpected list: %+v", got)
	}

	if err := store.Set(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
