package broadcast

import (
	"context"
	"sync"

	"solana-wallet-monitor/internal/domain"
)

// Recorder keeps every event in memory. Used by tests and local runs.
type Recorder struct {
	mu              sync.Mutex
	NewWallets      []*domain.TransferEvent
	Classifications []*domain.WalletClassification
	Activity        []domain.AssetActivity
	Unknown         []domain.UnknownFormat
}

func (r *Recorder) OnNewWallet(_ context.Context, e *domain.TransferEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.NewWallets = append(r.NewWallets, e)
}

func (r *Recorder) OnWalletClassified(_ context.Context, c *domain.WalletClassification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Classifications = append(r.Classifications, c)
}

func (r *Recorder) OnAssetActivity(_ context.Context, a domain.AssetActivity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Activity = append(r.Activity, a)
}

func (r *Recorder) OnUnknownFormat(_ context.Context, u domain.UnknownFormat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Unknown = append(r.Unknown, u)
}

// Snapshot returns copies of the recorded slices.
func (r *Recorder) Snapshot() (wallets []*domain.TransferEvent, classifications []*domain.WalletClassification, activity []domain.AssetActivity, unknown []domain.UnknownFormat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.TransferEvent(nil), r.NewWallets...),
		append([]*domain.WalletClassification(nil), r.Classifications...),
		append([]domain.AssetActivity(nil), r.Activity...),
		append([]domain.UnknownFormat(nil), r.Unknown...)
}
