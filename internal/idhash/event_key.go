// Package idhash derives deterministic keys for outbound events so consumers
// can drop redeliveries of the same fact.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// TransferKey computes the key of a new_wallet event.
// Formula: SHA256(new_wallet|signature|recipient)
// Returns hex-encoded hash (64 characters).
func TransferKey(signature, recipient string) string {
	return sum(fmt.Sprintf("new_wallet|%s|%s", signature, recipient))
}

// ClassificationKey computes the key of a wallet_classified event.
// Re-classifying an address yields a new key.
// Formula: SHA256(wallet_classified|address|classified_at)
func ClassificationKey(address string, classifiedAt int64) string {
	return sum(fmt.Sprintf("wallet_classified|%s|%d", address, classifiedAt))
}

// AssetActivityKey computes the key of an asset_activity event.
// Formula: SHA256(asset_activity|asset_key|variant|signature)
func AssetActivityKey(assetKey, variant, signature string) string {
	return sum(fmt.Sprintf("asset_activity|%s|%s|%s", assetKey, variant, signature))
}

// UnknownFormatKey computes the key of an unknown_format event.
// Formula: SHA256(unknown_format|asset_key|signature|account_count)
func UnknownFormatKey(assetKey, signature string, accountCount int) string {
	return sum(fmt.Sprintf("unknown_format|%s|%s|%d", assetKey, signature, accountCount))
}

func sum(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
