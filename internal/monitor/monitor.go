// Package monitor wires the pipeline stages together:
// listener → sharded resolution → broadcast + classification → activity watch.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"solana-wallet-monitor/internal/broadcast"
	"solana-wallet-monitor/internal/classifier"
	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/listener"
	"solana-wallet-monitor/internal/watcher"
)

// DefaultShards is the number of resolution workers when none is configured.
const DefaultShards = 8

// Resolver turns a change notification into transfer events.
type Resolver interface {
	ResolveAll(ctx context.Context, n domain.ChangeNotification) ([]*domain.TransferEvent, error)
}

// Options for creating a Monitor.
type Options struct {
	// Required stages
	Listener    *listener.Listener
	Resolver    Resolver
	Classifier  *classifier.Classifier
	Broadcaster broadcast.Broadcaster

	// Optional activity watch for fresh wallets
	Watcher *watcher.Watcher

	Accounts []string
	Shards   int // default: DefaultShards
	Logger   *slog.Logger
}

// Monitor runs the pipeline until its context ends.
type Monitor struct {
	listener    *listener.Listener
	resolver    Resolver
	classifier  *classifier.Classifier
	broadcaster broadcast.Broadcaster
	watcher     *watcher.Watcher
	accounts    []string
	shards      int
	logger      *slog.Logger

	mu    sync.Mutex
	ready bool
}

// New creates a Monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Listener == nil || opts.Resolver == nil || opts.Classifier == nil || opts.Broadcaster == nil {
		return nil, errors.New("monitor: listener, resolver, classifier and broadcaster are required")
	}
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		listener:    opts.Listener,
		resolver:    opts.Resolver,
		classifier:  opts.Classifier,
		broadcaster: opts.Broadcaster,
		watcher:     opts.Watcher,
		accounts:    opts.Accounts,
		shards:      opts.Shards,
		logger:      opts.Logger.With("component", "monitor"),
	}, nil
}

// ClassificationHandler publishes every classification and registers fresh
// wallets with w for activity polling. w may be nil.
func ClassificationHandler(b broadcast.Broadcaster, w *watcher.Watcher) classifier.ResultHandler {
	return func(ctx context.Context, c *domain.WalletClassification) {
		b.OnWalletClassified(ctx, c)
		if c.IsFresh && w != nil {
			w.Register(ctx, c.Address)
		}
	}
}

// Ready reports whether the pipeline is running.
func (m *Monitor) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *Monitor) setReady(v bool) {
	m.mu.Lock()
	m.ready = v
	m.mu.Unlock()
}

// Run watches the configured accounts and processes their notifications
// until ctx is cancelled. The listener is closed on return.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.listener.Close()

	for _, addr := range m.accounts {
		if err := m.listener.Watch(addr); err != nil {
			return fmt.Errorf("watch %s: %w", addr, err)
		}
	}
	m.logger.Info("monitor started", "accounts", len(m.accounts), "shards", m.shards)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.classifier.Run(gCtx)
	})
	if m.watcher != nil {
		g.Go(func() error {
			return m.watcher.Run(gCtx)
		})
	}

	shards := make([]chan domain.ChangeNotification, m.shards)
	for i := range shards {
		shards[i] = make(chan domain.ChangeNotification, 64)
		ch := shards[i]
		workerID := i
		g.Go(func() error {
			return m.worker(gCtx, workerID, ch)
		})
	}

	g.Go(func() error {
		return m.dispatch(gCtx, shards)
	})
	g.Go(func() error {
		return m.reportUnmonitored(gCtx)
	})

	m.setReady(true)
	err := g.Wait()
	m.setReady(false)

	m.logger.Info("monitor stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shardFor keeps every notification of one account on the same worker so
// their processing order matches delivery order.
func shardFor(address string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(address))
	return int(h.Sum32() % uint32(n))
}

func (m *Monitor) dispatch(ctx context.Context, shards []chan domain.ChangeNotification) error {
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-m.listener.Notifications():
			if !ok {
				return nil
			}
			select {
			case shards[shardFor(n.Address, len(shards))] <- n:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (m *Monitor) reportUnmonitored(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-m.listener.Unmonitored():
			if !ok {
				return nil
			}
			m.logger.Error("source account no longer monitored",
				"address", u.Address,
				"failures", u.Failures,
				"error_kind", "unmonitored",
				"error", u.Err,
			)
		}
	}
}

func (m *Monitor) worker(ctx context.Context, workerID int, ch <-chan domain.ChangeNotification) error {
	log := m.logger.With("worker", workerID)
	for n := range ch {
		if ctx.Err() != nil {
			continue
		}
		m.handle(ctx, log, n)
	}
	return nil
}

// handle resolves n and forwards each transfer. A resolution error still
// forwards whatever resolved before it.
func (m *Monitor) handle(ctx context.Context, log *slog.Logger, n domain.ChangeNotification) {
	events, err := m.resolver.ResolveAll(ctx, n)
	if err != nil && ctx.Err() == nil {
		log.Warn("resolution incomplete", "address", n.Address, "slot", n.Slot, "error", err)
	}

	for _, e := range events {
		m.broadcaster.OnNewWallet(ctx, e)
		if !e.Success || e.Recipient == "" {
			continue
		}

		_, err := m.classifier.Enqueue(ctx, classifier.Job{
			Address:          e.Recipient,
			TriggerSignature: e.Signature,
		})
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("classification not queued",
					"address", e.Recipient,
					"signature", e.Signature,
					"error", err,
				)
			}
			return
		}
	}
}
