package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/idhash"
	"solana-wallet-monitor/internal/observability"
)

// SchemaVersion is the version of the stream envelope.
const SchemaVersion = 1

// DefaultStream is the stream events are appended to when none is configured.
const DefaultStream = "wallet-monitor:events"

// Envelope is one stream entry.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Key           string          `json:"key"` // deterministic per fact, stable across redeliveries
	SchemaVersion int             `json:"schema_version"`
	EmittedAt     int64           `json:"emitted_at"` // Unix ms
	Data          json.RawMessage `json:"data"`
}

// TransferPayload is the data of a new_wallet event.
type TransferPayload struct {
	Signature string `json:"signature"`
	Slot      int64  `json:"slot"`
	BlockTime int64  `json:"block_time,omitempty"`
	Source    string `json:"source"`
	Recipient string `json:"recipient"`
	Lamports  int64  `json:"lamports"`
	AmountSOL string `json:"amount_sol"`
}

// ClassificationPayload is the data of a wallet_classified event.
type ClassificationPayload struct {
	Address               string  `json:"address"`
	IsFresh               bool    `json:"is_fresh"`
	PriorTransactionCount int     `json:"prior_transaction_count"`
	AgeInDays             float64 `json:"age_in_days"`
	ClassifiedAt          int64   `json:"classified_at"`
	Truncated             bool    `json:"truncated,omitempty"`
	TriggerSignature      string  `json:"trigger_signature,omitempty"`
}

// AssetActivityPayload is the data of an asset_activity event.
type AssetActivityPayload struct {
	AssetKey        string            `json:"asset_key"`
	Variant         string            `json:"variant"`
	DerivedAccounts map[string]string `json:"derived_accounts,omitempty"`
	Signature       string            `json:"signature"`
	Wallet          string            `json:"wallet"`
	DetectedAt      int64             `json:"detected_at"`
}

// UnknownFormatPayload is the data of an unknown_format event.
type UnknownFormatPayload struct {
	AssetKey      string `json:"asset_key"`
	Discriminator []int  `json:"discriminator"`
	AccountCount  int    `json:"account_count"`
	Signature     string `json:"signature"`
	ObservedAt    int64  `json:"observed_at"`
}

// RedisStream appends events to a Redis stream as JSON envelopes.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
	now    func() time.Time
}

// RedisOptions configures a RedisStream.
type RedisOptions struct {
	URL    string
	Stream string // default: DefaultStream
	MaxLen int64  // approximate trim length, 0 keeps everything
}

// NewRedisStream connects to Redis and verifies the connection.
func NewRedisStream(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisStream, error) {
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisStream(client, opts, logger), nil
}

func newRedisStream(client *redis.Client, opts RedisOptions, logger *slog.Logger) *RedisStream {
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStream{
		client: client,
		stream: opts.Stream,
		maxLen: opts.MaxLen,
		logger: logger.With("component", "redis_stream", "stream", opts.Stream),
		now:    time.Now,
	}
}

// Close closes the Redis client.
func (r *RedisStream) Close() error {
	return r.client.Close()
}

// Publish appends one event and returns the stream entry ID.
func (r *RedisStream) Publish(ctx context.Context, eventType, key string, payload any) (string, error) {
	env, err := newEnvelope(eventType, key, payload, r.now())
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"type": eventType,
			"key":  key,
			"data": string(body),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return id, nil
}

func newEnvelope(eventType, key string, payload any, now time.Time) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:            uuid.NewString(),
		Type:          eventType,
		Key:           key,
		SchemaVersion: SchemaVersion,
		EmittedAt:     now.UnixMilli(),
		Data:          data,
	}, nil
}

func (r *RedisStream) publish(ctx context.Context, eventType, key string, payload any) {
	_, err := r.Publish(ctx, eventType, key, payload)
	observability.RecordPublish("redis", eventType, err)
	if err != nil {
		r.logger.Error("publish failed", "event", eventType, "error", err)
	}
}

func (r *RedisStream) OnNewWallet(ctx context.Context, e *domain.TransferEvent) {
	r.publish(ctx, EventNewWallet, idhash.TransferKey(e.Signature, e.Recipient), TransferPayload{
		Signature: e.Signature,
		Slot:      e.Slot,
		BlockTime: e.BlockTime,
		Source:    e.Source,
		Recipient: e.Recipient,
		Lamports:  e.Amount,
		AmountSOL: e.AmountSOL().String(),
	})
}

func (r *RedisStream) OnWalletClassified(ctx context.Context, c *domain.WalletClassification) {
	r.publish(ctx, EventWalletClassified, idhash.ClassificationKey(c.Address, c.ClassifiedAt), ClassificationPayload{
		Address:               c.Address,
		IsFresh:               c.IsFresh,
		PriorTransactionCount: c.PriorTransactionCount,
		AgeInDays:             c.AgeInDays,
		ClassifiedAt:          c.ClassifiedAt,
		Truncated:             c.Truncated,
		TriggerSignature:      c.TriggerSignature,
	})
}

func (r *RedisStream) OnAssetActivity(ctx context.Context, a domain.AssetActivity) {
	r.publish(ctx, EventAssetActivity, idhash.AssetActivityKey(a.AssetKey, a.Variant, a.Signature), AssetActivityPayload{
		AssetKey:        a.AssetKey,
		Variant:         a.Variant,
		DerivedAccounts: a.DerivedAccounts,
		Signature:       a.Signature,
		Wallet:          a.Wallet,
		DetectedAt:      a.DetectedAt,
	})
}

func (r *RedisStream) OnUnknownFormat(ctx context.Context, u domain.UnknownFormat) {
	disc := make([]int, len(u.Discriminator))
	for i, b := range u.Discriminator {
		disc[i] = int(b)
	}
	r.publish(ctx, EventUnknownFormat, idhash.UnknownFormatKey(u.AssetKey, u.Signature, u.AccountCount), UnknownFormatPayload{
		AssetKey:      u.AssetKey,
		Discriminator: disc,
		AccountCount:  u.AccountCount,
		Signature:     u.Signature,
		ObservedAt:    u.ObservedAt,
	})
}
