package main

import (
	"context"
	"fmt"
	"log/slog"

	"solana-wallet-monitor/internal/broadcast"
	"solana-wallet-monitor/internal/config"
	"solana-wallet-monitor/internal/storage"
	chstore "solana-wallet-monitor/internal/storage/clickhouse"
	"solana-wallet-monitor/internal/storage/memory"
	"solana-wallet-monitor/internal/storage/migrations"
	pgstore "solana-wallet-monitor/internal/storage/postgres"
)

// stores holds the persistence adapters. Any field may be nil.
type stores struct {
	classifications storage.ClassificationStore
	transfers       storage.TransferEventStore
	analytics       storage.TransferEventStore // ClickHouse transfer log
	cursors         storage.WatchCursorStore

	cleanup []func()
}

func (s *stores) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// openStores connects the configured databases and applies their migrations.
func openStores(ctx context.Context, sinks config.SinksSection, useMemory bool, logger *slog.Logger) (*stores, error) {
	st := &stores{}

	if useMemory {
		st.classifications = memory.NewClassificationStore()
		st.transfers = memory.NewTransferEventStore()
		st.cursors = memory.NewWatchCursorStore()
		logger.Info("using in-memory stores")
		return st, nil
	}

	if sinks.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, sinks.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		st.cleanup = append(st.cleanup, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			st.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		st.classifications = pgstore.NewClassificationStore(pool)
		st.transfers = pgstore.NewTransferEventStore(pool)
		st.cursors = pgstore.NewWatchCursorStore(pool)
		logger.Info("postgres store ready")
	}

	if sinks.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, sinks.ClickhouseDSN)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		st.cleanup = append(st.cleanup, func() { conn.Close() })
		st.analytics = chstore.NewTransferEventStore(conn)
		logger.Info("clickhouse store ready")
	}

	return st, nil
}

// sinkSet is the assembled broadcaster plus what must be closed with it.
type sinkSet struct {
	broadcaster broadcast.Broadcaster
	redis       *broadcast.RedisStream
}

func (s *sinkSet) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
}

// buildBroadcaster fans events out to the log, the stores and the Redis
// stream when configured.
func buildBroadcaster(ctx context.Context, sinks config.SinksSection, st *stores, logger *slog.Logger) (*sinkSet, error) {
	set := &sinkSet{}
	multi := broadcast.Multi{broadcast.NewLog(logger)}

	if st.transfers != nil || st.classifications != nil {
		multi = append(multi, broadcast.NewStoreSink(st.transfers, st.classifications, logger))
	}
	if st.analytics != nil {
		multi = append(multi, broadcast.NewStoreSink(st.analytics, nil, logger))
	}

	if sinks.RedisURL != "" {
		rs, err := broadcast.NewRedisStream(ctx, broadcast.RedisOptions{
			URL:    sinks.RedisURL,
			Stream: sinks.RedisStream,
			MaxLen: sinks.RedisMaxLen,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		set.redis = rs
		multi = append(multi, rs)
		logger.Info("redis stream sink ready", "stream", sinks.RedisStream)
	}

	set.broadcaster = multi
	return set, nil
}
