package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestTransferKey(t *testing.T) {
	got := TransferKey("sig1", "wallet1")
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}

	// Formula check.
	h := sha256.Sum256([]byte("new_wallet|sig1|wallet1"))
	if want := hex.EncodeToString(h[:]); got != want {
		t.Errorf("TransferKey = %s, want %s", got, want)
	}

	if TransferKey("sig1", "wallet1") != got {
		t.Error("key is not deterministic")
	}
	if TransferKey("sig2", "wallet1") == got {
		t.Error("different signatures must yield different keys")
	}
}

func TestClassificationKey(t *testing.T) {
	a := ClassificationKey("wallet1", 1000)
	b := ClassificationKey("wallet1", 2000)
	if a == b {
		t.Error("re-classification must yield a new key")
	}
	if a != ClassificationKey("wallet1", 1000) {
		t.Error("key is not deterministic")
	}
}

func TestKeysDoNotCollideAcrossEventTypes(t *testing.T) {
	keys := map[string]string{
		"transfer":       TransferKey("x", "y"),
		"classification": ClassificationKey("x", 0),
		"activity":       AssetActivityKey("x", "y", "z"),
		"unknown":        UnknownFormatKey("x", "z", 15),
	}

	seen := make(map[string]string)
	for name, k := range keys {
		if other, ok := seen[k]; ok {
			t.Errorf("%s and %s share key %s", name, other, k)
		}
		seen[k] = name
	}
}

func TestUnknownFormatKey_AccountCount(t *testing.T) {
	if UnknownFormatKey("mint", "sig", 15) == UnknownFormatKey("mint", "sig", 17) {
		t.Error("account count must be part of the key")
	}
}
