package resolver

import (
	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/solana"
)

// BalanceDeltas returns post minus pre lamports for every account index of tx
// present in both balance arrays and the account key list.
func BalanceDeltas(tx *solana.Transaction) []int64 {
	if tx == nil || tx.Meta == nil {
		return nil
	}
	n := len(tx.Meta.PreBalances)
	if len(tx.Meta.PostBalances) < n {
		n = len(tx.Meta.PostBalances)
	}
	if keys := tx.AllAccountKeys(); len(keys) < n {
		n = len(keys)
	}

	deltas := make([]int64, n)
	for i := 0; i < n; i++ {
		deltas[i] = int64(tx.Meta.PostBalances[i]) - int64(tx.Meta.PreBalances[i])
	}
	return deltas
}

// SelectRecipient picks the account, other than source, with the largest
// positive balance delta. Ties go to the lowest account index. ok is false
// when no account gained lamports.
func SelectRecipient(tx *solana.Transaction, source string) (index int, delta int64, ok bool) {
	keys := tx.AllAccountKeys()
	index = -1
	for i, d := range BalanceDeltas(tx) {
		if d <= 0 || keys[i] == source {
			continue
		}
		if d > delta {
			index, delta = i, d
		}
	}
	return index, delta, index >= 0
}

// BuildEvent turns tx into a transfer event attributed to source.
// It returns nil for failed transactions and when no recipient exists.
func BuildEvent(tx *solana.Transaction, source string) *domain.TransferEvent {
	if !tx.Succeeded() {
		return nil
	}
	idx, delta, ok := SelectRecipient(tx, source)
	if !ok {
		return nil
	}
	return &domain.TransferEvent{
		Signature: tx.Signature,
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime,
		Source:    source,
		Recipient: tx.AllAccountKeys()[idx],
		Amount:    delta,
		Success:   true,
	}
}
