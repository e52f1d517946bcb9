// Package resolver turns account change notifications into transfer events.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"solana-wallet-monitor/internal/dedup"
	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/observability"
	"solana-wallet-monitor/internal/rotator"
	"solana-wallet-monitor/internal/solana"
)

// DefaultLookback is how many recent signatures are inspected per notification.
const DefaultLookback = 5

// Config configures the resolver.
type Config struct {
	Lookback int
}

// Resolver fetches the recent transactions of a notified account and derives
// the recipient of each one by balance delta.
type Resolver struct {
	rpc      solana.RPCClient
	guard    *dedup.Guard
	lookback int
	logger   *slog.Logger
}

// New creates a resolver. Every signature is claimed on guard before it is fetched.
func New(rpc solana.RPCClient, guard *dedup.Guard, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		rpc:      rpc,
		guard:    guard,
		lookback: cfg.Lookback,
		logger:   logger.With("component", "resolver"),
	}
}

// Resolve returns the most recent transfer event for n, or nil when nothing
// new with a recipient was found.
func (r *Resolver) Resolve(ctx context.Context, n domain.ChangeNotification) (*domain.TransferEvent, error) {
	events, err := r.ResolveAll(ctx, n)
	if len(events) == 0 {
		return nil, err
	}
	return events[len(events)-1], err
}

// ResolveAll resolves every unclaimed signature in the lookback window of
// n.Address, oldest first. Signatures whose fetch fails are released so a
// later notification can retry them; the first such error is returned along
// with whatever was resolved.
func (r *Resolver) ResolveAll(ctx context.Context, n domain.ChangeNotification) ([]*domain.TransferEvent, error) {
	sigs, err := r.rpc.GetSignaturesForAddress(ctx, n.Address, &solana.SignaturesOpts{Limit: r.lookback})
	if err != nil {
		r.logFailure(n.Address, "", err)
		return nil, fmt.Errorf("signatures for %s: %w", n.Address, err)
	}

	var events []*domain.TransferEvent
	var firstErr error

	// Newest first from the node; process in chain order.
	for i := len(sigs) - 1; i >= 0; i-- {
		sig := sigs[i]
		if !r.guard.TryAcquire(sig.Signature) {
			observability.RecordDedupHit()
			continue
		}

		if sig.Err != nil {
			observability.RecordResolutionEmpty()
			r.logger.Debug("skipping failed transaction",
				"signature", sig.Signature,
				"error_kind", "resolution_empty",
			)
			continue
		}

		event, err := r.resolveSignature(ctx, n.Address, sig.Signature)
		if err != nil {
			r.guard.Release(sig.Signature)
			r.logFailure(n.Address, sig.Signature, err)
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if event == nil {
			continue
		}

		observability.RecordResolved()
		events = append(events, event)
	}

	return events, firstErr
}

func (r *Resolver) resolveSignature(ctx context.Context, source, signature string) (*domain.TransferEvent, error) {
	tx, err := r.rpc.GetTransaction(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", signature, err)
	}
	if tx == nil {
		// Not yet visible at the requested commitment.
		return nil, fmt.Errorf("transaction %s: %w", signature, errNotVisible)
	}

	event := BuildEvent(tx, source)
	if event == nil {
		observability.RecordResolutionEmpty()
		r.logger.Debug("no recipient",
			"signature", signature,
			"source", source,
			"succeeded", tx.Succeeded(),
			"error_kind", "resolution_empty",
		)
	}
	return event, nil
}

var errNotVisible = errors.New("transaction not yet visible")

func (r *Resolver) logFailure(address, signature string, err error) {
	kind := errorKind(err)
	observability.RecordResolutionError(kind)
	r.logger.Warn("resolve failed",
		"address", address,
		"signature", signature,
		"error_kind", kind,
		"error", err,
	)
}

func errorKind(err error) string {
	var te *solana.TransportError
	switch {
	case errors.Is(err, rotator.ErrRateLimitExceeded):
		return "rate_limit_exceeded"
	case errors.As(err, &te):
		return "transport"
	case errors.Is(err, errNotVisible):
		return "not_visible"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "rpc"
}
