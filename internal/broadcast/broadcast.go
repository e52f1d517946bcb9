// Package broadcast delivers pipeline events to external collaborators.
package broadcast

import (
	"context"
	"log/slog"

	"solana-wallet-monitor/internal/domain"
)

// Event types.
const (
	EventNewWallet        = "new_wallet"
	EventWalletClassified = "wallet_classified"
	EventAssetActivity    = "asset_activity"
	EventUnknownFormat    = "unknown_format"
)

// Broadcaster receives every outbound event. Implementations must be safe for
// concurrent use and must not block the pipeline on delivery failures.
type Broadcaster interface {
	OnNewWallet(ctx context.Context, e *domain.TransferEvent)
	OnWalletClassified(ctx context.Context, c *domain.WalletClassification)
	OnAssetActivity(ctx context.Context, a domain.AssetActivity)
	OnUnknownFormat(ctx context.Context, u domain.UnknownFormat)
}

// Multi fans every event out to each broadcaster in order.
type Multi []Broadcaster

func (m Multi) OnNewWallet(ctx context.Context, e *domain.TransferEvent) {
	for _, b := range m {
		b.OnNewWallet(ctx, e)
	}
}

func (m Multi) OnWalletClassified(ctx context.Context, c *domain.WalletClassification) {
	for _, b := range m {
		b.OnWalletClassified(ctx, c)
	}
}

func (m Multi) OnAssetActivity(ctx context.Context, a domain.AssetActivity) {
	for _, b := range m {
		b.OnAssetActivity(ctx, a)
	}
}

func (m Multi) OnUnknownFormat(ctx context.Context, u domain.UnknownFormat) {
	for _, b := range m {
		b.OnUnknownFormat(ctx, u)
	}
}

// Log writes every event as a structured log line.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging broadcaster.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "broadcast")}
}

func (l *Log) OnNewWallet(_ context.Context, e *domain.TransferEvent) {
	l.logger.Info("new wallet",
		"event", EventNewWallet,
		"signature", e.Signature,
		"source", e.Source,
		"recipient", e.Recipient,
		"amount_sol", e.AmountSOL().String(),
		"slot", e.Slot,
	)
}

func (l *Log) OnWalletClassified(_ context.Context, c *domain.WalletClassification) {
	l.logger.Info("wallet classified",
		"event", EventWalletClassified,
		"address", c.Address,
		"fresh", c.IsFresh,
		"prior_transactions", c.PriorTransactionCount,
		"age_days", c.AgeInDays,
		"truncated", c.Truncated,
	)
}

func (l *Log) OnAssetActivity(_ context.Context, a domain.AssetActivity) {
	l.logger.Info("asset activity",
		"event", EventAssetActivity,
		"asset", a.AssetKey,
		"variant", a.Variant,
		"wallet", a.Wallet,
		"signature", a.Signature,
	)
}

func (l *Log) OnUnknownFormat(_ context.Context, u domain.UnknownFormat) {
	l.logger.Warn("unknown format",
		"event", EventUnknownFormat,
		"asset", u.AssetKey,
		"accounts", u.AccountCount,
		"discriminator", u.Discriminator,
		"signature", u.Signature,
	)
}

var (
	_ Broadcaster = Multi(nil)
	_ Broadcaster = (*Log)(nil)
	_ Broadcaster = (*Recorder)(nil)
	_ Broadcaster = (*StoreSink)(nil)
	_ Broadcaster = (*RedisStream)(nil)
)
