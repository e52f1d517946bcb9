package broadcast

import (
	"context"
	"errors"
	"log/slog"

	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/observability"
	"solana-wallet-monitor/internal/storage"
)

// StoreSink persists transfers and classifications. Asset events are not stored.
type StoreSink struct {
	transfers       storage.TransferEventStore
	classifications storage.ClassificationStore
	logger          *slog.Logger
}

// NewStoreSink creates a sink writing to the given stores. Either may be nil.
func NewStoreSink(transfers storage.TransferEventStore, classifications storage.ClassificationStore, logger *slog.Logger) *StoreSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSink{
		transfers:       transfers,
		classifications: classifications,
		logger:          logger.With("component", "store_sink"),
	}
}

func (s *StoreSink) OnNewWallet(ctx context.Context, e *domain.TransferEvent) {
	if s.transfers == nil {
		return
	}
	err := s.transfers.Insert(ctx, e)
	if errors.Is(err, storage.ErrDuplicateKey) {
		err = nil
	}
	observability.RecordPublish("store", EventNewWallet, err)
	if err != nil {
		s.logger.Error("store transfer failed", "signature", e.Signature, "error", err)
	}
}

func (s *StoreSink) OnWalletClassified(ctx context.Context, c *domain.WalletClassification) {
	if s.classifications == nil {
		return
	}
	err := s.classifications.Upsert(ctx, c)
	observability.RecordPublish("store", EventWalletClassified, err)
	if err != nil {
		s.logger.Error("store classification failed", "address", c.Address, "error", err)
	}
}

func (s *StoreSink) OnAssetActivity(context.Context, domain.AssetActivity) {}

func (s *StoreSink) OnUnknownFormat(context.Context, domain.UnknownFormat) {}
