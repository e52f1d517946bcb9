package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/storage"
)

// ClassificationStore implements storage.ClassificationStore using PostgreSQL.
type ClassificationStore struct {
	pool *Pool
}

// NewClassificationStore creates a new ClassificationStore.
func NewClassificationStore(pool *Pool) *ClassificationStore {
	return &ClassificationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ClassificationStore = (*ClassificationStore)(nil)

// Upsert inserts c or overwrites the existing record for c.Address.
func (s *ClassificationStore) Upsert(ctx context.Context, c *domain.WalletClassification) (err error) {
	if c == nil || c.Address == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("upsert_classification", start, err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO wallet_classifications (
			address, is_fresh, prior_transaction_count, age_in_days,
			classified_at, truncated, trigger_signature, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (address) DO UPDATE
		SET is_fresh = EXCLUDED.is_fresh,
		    prior_transaction_count = EXCLUDED.prior_transaction_count,
		    age_in_days = EXCLUDED.age_in_days,
		    classified_at = EXCLUDED.classified_at,
		    truncated = EXCLUDED.truncated,
		    trigger_signature = EXCLUDED.trigger_signature,
		    updated_at = NOW()
	`,
		c.Address,
		c.IsFresh,
		c.PriorTransactionCount,
		c.AgeInDays,
		c.ClassifiedAt,
		c.Truncated,
		c.TriggerSignature,
	)
	if err != nil {
		return fmt.Errorf("upsert classification: %w", err)
	}
	return nil
}

// GetByAddress retrieves the classification of address. Returns ErrNotFound if not exists.
func (s *ClassificationStore) GetByAddress(ctx context.Context, address string) (*domain.WalletClassification, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, is_fresh, prior_transaction_count, age_in_days,
		       classified_at, truncated, trigger_signature
		FROM wallet_classifications
		WHERE address = $1
	`, address)

	c, err := scanClassification(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get classification by address: %w", err)
	}
	return c, nil
}

// ListFresh retrieves fresh wallets classified at or after since.
func (s *ClassificationStore) ListFresh(ctx context.Context, since int64) ([]*domain.WalletClassification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, is_fresh, prior_transaction_count, age_in_days,
		       classified_at, truncated, trigger_signature
		FROM wallet_classifications
		WHERE is_fresh AND classified_at >= $1
		ORDER BY classified_at ASC, address ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list fresh classifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.WalletClassification
	for rows.Next() {
		c, err := scanClassification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan classification row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classification rows: %w", err)
	}
	return out, nil
}

func scanClassification(row pgx.Row) (*domain.WalletClassification, error) {
	var c domain.WalletClassification
	err := row.Scan(
		&c.Address,
		&c.IsFresh,
		&c.PriorTransactionCount,
		&c.AgeInDays,
		&c.ClassifiedAt,
		&c.Truncated,
		&c.TriggerSignature,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
