// Package watcher polls classified wallets for token creation activity and
// feeds the observed instructions to the format detector.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"solana-wallet-monitor/internal/format"
	"solana-wallet-monitor/internal/observability"
	"solana-wallet-monitor/internal/solana"
	"solana-wallet-monitor/internal/storage"
)

// Config configures polling.
type Config struct {
	PollInterval   time.Duration // default: 5s
	WatchDuration  time.Duration // registration lifetime (default: 30m)
	SignatureLimit int           // page size of each signature fetch (default: 10)
	MaxBacklog     int           // signatures fetched per wallet per poll (default: 1000)
}

type wallet struct {
	registeredAt time.Time
	lastSeen     string // newest processed signature
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithCursorStore persists the watch set and polling cursors in store.
func WithCursorStore(store storage.WatchCursorStore) Option {
	return func(w *Watcher) {
		w.cursors = store
	}
}

// Watcher tracks registered wallets and polls their new signatures.
type Watcher struct {
	rpc      solana.RPCClient
	detector *format.Detector
	cursors  storage.WatchCursorStore
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	wallets map[string]*wallet
}

// New creates a watcher feeding detector.
func New(rpc solana.RPCClient, detector *format.Detector, cfg Config, logger *slog.Logger, opts ...Option) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.WatchDuration <= 0 {
		cfg.WatchDuration = 30 * time.Minute
	}
	if cfg.SignatureLimit <= 0 {
		cfg.SignatureLimit = 10
	}
	if cfg.MaxBacklog <= 0 {
		cfg.MaxBacklog = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		rpc:      rpc,
		detector: detector,
		cfg:      cfg,
		logger:   logger.With("component", "watcher"),
		now:      time.Now,
		wallets:  make(map[string]*wallet),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Restore reloads registrations from the cursor store. Expired cursors are
// dropped on the next poll.
func (w *Watcher) Restore(ctx context.Context) error {
	if w.cursors == nil {
		return nil
	}
	stored, err := w.cursors.List(ctx)
	if err != nil {
		return fmt.Errorf("list watch cursors: %w", err)
	}

	w.mu.Lock()
	for _, c := range stored {
		w.wallets[c.Address] = &wallet{
			registeredAt: time.UnixMilli(c.RegisteredAt),
			lastSeen:     c.Signature,
		}
	}
	n := len(w.wallets)
	w.mu.Unlock()

	observability.SetWatchedWallets(n)
	w.logger.Info("watch set restored", "wallets", len(stored))
	return nil
}

// Register adds address to the watch set. Registering again renews the
// registration. Returns true for a new registration.
func (w *Watcher) Register(ctx context.Context, address string) bool {
	w.mu.Lock()
	wl, existing := w.wallets[address]
	if existing {
		wl.registeredAt = w.now()
	} else {
		wl = &wallet{registeredAt: w.now()}
		w.wallets[address] = wl
	}
	cursor := storage.WatchCursor{Address: address, Signature: wl.lastSeen, RegisteredAt: wl.registeredAt.UnixMilli()}
	n := len(w.wallets)
	w.mu.Unlock()

	w.persist(ctx, &cursor)
	if existing {
		return false
	}
	observability.SetWatchedWallets(n)
	w.logger.Info("wallet registered", "address", address)
	return true
}

// Unregister removes address from the watch set.
func (w *Watcher) Unregister(ctx context.Context, address string) {
	w.mu.Lock()
	delete(w.wallets, address)
	n := len(w.wallets)
	w.mu.Unlock()

	observability.SetWatchedWallets(n)
	w.forget(ctx, address)
}

func (w *Watcher) persist(ctx context.Context, c *storage.WatchCursor) {
	if w.cursors == nil {
		return
	}
	if err := w.cursors.Set(ctx, c); err != nil {
		w.logger.Warn("persist watch cursor failed", "address", c.Address, "error", err)
	}
}

func (w *Watcher) forget(ctx context.Context, address string) {
	if w.cursors == nil {
		return
	}
	if err := w.cursors.Delete(ctx, address); err != nil {
		w.logger.Warn("delete watch cursor failed", "address", address, "error", err)
	}
}

// Registered returns the watched addresses.
func (w *Watcher) Registered() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.wallets))
	for addr := range w.wallets {
		out = append(out, addr)
	}
	return out
}

// Run polls every PollInterval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("poll incomplete", "error", err)
			}
		}
	}
}

// Poll expires stale registrations and processes new signatures of every
// remaining wallet. A failing wallet does not stop the others.
func (w *Watcher) Poll(ctx context.Context) error {
	var errs []error
	for _, addr := range w.due(ctx) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.pollWallet(ctx, addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		}
	}
	return errors.Join(errs...)
}

// due drops expired registrations and returns the rest.
func (w *Watcher) due(ctx context.Context) []string {
	w.mu.Lock()
	now := w.now()
	var expired []string
	out := make([]string, 0, len(w.wallets))
	for addr, wl := range w.wallets {
		if now.Sub(wl.registeredAt) >= w.cfg.WatchDuration {
			delete(w.wallets, addr)
			expired = append(expired, addr)
			continue
		}
		out = append(out, addr)
	}
	n := len(w.wallets)
	w.mu.Unlock()

	observability.SetWatchedWallets(n)
	for _, addr := range expired {
		w.logger.Info("registration expired", "address", addr)
		w.forget(ctx, addr)
	}
	return out
}

func (w *Watcher) cursor(address string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wl, ok := w.wallets[address]
	if !ok {
		return "", false
	}
	return wl.lastSeen, true
}

func (w *Watcher) advance(ctx context.Context, address, signature string) {
	w.mu.Lock()
	wl, ok := w.wallets[address]
	if !ok {
		w.mu.Unlock()
		return
	}
	wl.lastSeen = signature
	cursor := storage.WatchCursor{Address: address, Signature: signature, RegisteredAt: wl.registeredAt.UnixMilli()}
	w.mu.Unlock()

	w.persist(ctx, &cursor)
}

func (w *Watcher) pollWallet(ctx context.Context, address string) error {
	until, ok := w.cursor(address)
	if !ok {
		return nil
	}

	sigs, err := w.newSignatures(ctx, address, until)
	if err != nil {
		return err
	}

	// Oldest first so the cursor only moves past processed signatures.
	for i := len(sigs) - 1; i >= 0; i-- {
		sig := sigs[i]
		if sig.Err == nil {
			if err := w.processSignature(ctx, address, sig.Signature); err != nil {
				return err
			}
		}
		w.advance(ctx, address, sig.Signature)
	}
	return nil
}

// newSignatures returns the signatures of address newer than until, newest
// first. It pages backwards until it reaches until or MaxBacklog. A wallet
// without a cursor gets only its newest page.
func (w *Watcher) newSignatures(ctx context.Context, address, until string) ([]solana.SignatureInfo, error) {
	var out []solana.SignatureInfo
	before := ""
	for {
		page, err := w.rpc.GetSignaturesForAddress(ctx, address, &solana.SignaturesOpts{
			Before: before,
			Until:  until,
			Limit:  w.cfg.SignatureLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("get signatures: %w", err)
		}
		out = append(out, page...)

		if len(page) < w.cfg.SignatureLimit || until == "" {
			return out, nil
		}
		if len(out) >= w.cfg.MaxBacklog {
			w.logger.Warn("signature backlog truncated",
				"address", address,
				"fetched", len(out),
				"until", until,
			)
			return out, nil
		}
		before = page[len(page)-1].Signature
	}
}

func (w *Watcher) processSignature(ctx context.Context, address, signature string) error {
	tx, err := w.rpc.GetTransaction(ctx, signature)
	if err != nil {
		return fmt.Errorf("get transaction %s: %w", signature, err)
	}
	if tx == nil {
		return fmt.Errorf("transaction %s not yet visible", signature)
	}

	ixs, err := tx.InstructionsForProgram(w.detector.ProgramID())
	if err != nil {
		w.logger.Warn("undecodable transaction", "signature", signature, "error", err)
		return nil
	}

	for _, ix := range ixs {
		if !format.IsCreate(ix.Data) {
			continue
		}
		key, ok := format.AssetKey(ix)
		if !ok {
			continue
		}
		_, err := w.detector.Observe(ctx, key, format.Sample{
			Instruction: ix,
			Signature:   signature,
			Wallet:      address,
		})
		if err != nil && !errors.Is(err, format.ErrUnknownFormat) {
			w.logger.Warn("layout detection failed",
				"asset", key,
				"signature", signature,
				"error", err,
			)
		}
	}
	return nil
}
