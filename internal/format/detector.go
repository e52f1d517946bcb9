package format

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/observability"
	"solana-wallet-monitor/internal/solana"
)

// Sink receives detector events.
type Sink interface {
	OnAssetActivity(ctx context.Context, a domain.AssetActivity)
	OnUnknownFormat(ctx context.Context, u domain.UnknownFormat)
}

// Sample is an observed instruction with its provenance.
type Sample struct {
	Instruction solana.Instruction
	Signature   string
	Wallet      string
}

// Entry is a cached layout for one asset.
type Entry struct {
	Layout         Layout
	Signature      string
	LastVerifiedAt time.Time
}

// Detector caches the layout per asset key. The cache lives in memory only and
// an entry is dropped whenever a consumer reports a structural mismatch.
type Detector struct {
	programID string
	sink      Sink
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]Entry
}

// NewDetector creates a detector for programID. sink may be nil.
func NewDetector(programID string, sink Sink, logger *slog.Logger) *Detector {
	if programID == "" {
		programID = DefaultProgramID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		programID: programID,
		sink:      sink,
		logger:    logger.With("component", "format"),
		now:       time.Now,
		cache:     make(map[string]Entry),
	}
}

// ProgramID returns the program whose instructions are inspected.
func (d *Detector) ProgramID() string {
	return d.programID
}

// Detect returns the layout for assetKey, deriving it from s on first sight.
// A cached layout is returned as is.
func (d *Detector) Detect(ctx context.Context, assetKey string, s Sample) (Layout, error) {
	if e, ok := d.Entry(assetKey); ok {
		return e.Layout, nil
	}

	layout, err := d.derive(ctx, assetKey, s)
	if err != nil {
		return Layout{}, err
	}

	now := d.now()
	d.mu.Lock()
	if existing, ok := d.cache[assetKey]; ok {
		// Lost a race with a concurrent detection.
		d.mu.Unlock()
		return existing.Layout, nil
	}
	d.cache[assetKey] = Entry{Layout: layout, Signature: s.Signature, LastVerifiedAt: now}
	d.mu.Unlock()

	observability.RecordFormatDetection(layout.Variant.String())
	d.logger.Info("layout detected",
		"asset", assetKey,
		"variant", layout.Variant.String(),
		"signature", s.Signature,
	)
	if d.sink != nil {
		d.sink.OnAssetActivity(ctx, domain.AssetActivity{
			AssetKey:        assetKey,
			Variant:         layout.Variant.String(),
			DerivedAccounts: layout.DerivedAccounts(),
			Signature:       s.Signature,
			Wallet:          s.Wallet,
			DetectedAt:      now.UnixMilli(),
		})
	}
	return layout, nil
}

// Verify checks s against the cached layout of assetKey. On mismatch the entry
// is invalidated and ErrLayoutMismatch returned; without an entry Verify
// behaves like Detect.
func (d *Detector) Verify(ctx context.Context, assetKey string, s Sample) (Layout, error) {
	e, ok := d.Entry(assetKey)
	if !ok {
		return d.Detect(ctx, assetKey, s)
	}

	variant, err := ClassifyLayout(len(s.Instruction.Accounts), s.Instruction.Data)
	if err != nil || variant != e.Layout.Variant {
		d.Invalidate(assetKey)
		d.logger.Warn("cached layout no longer matches",
			"asset", assetKey,
			"cached", e.Layout.Variant.String(),
			"observed", variant.String(),
			"signature", s.Signature,
		)
		return Layout{}, ErrLayoutMismatch
	}

	d.mu.Lock()
	if cur, ok := d.cache[assetKey]; ok {
		cur.LastVerifiedAt = d.now()
		cur.Signature = s.Signature
		d.cache[assetKey] = cur
	}
	d.mu.Unlock()
	return e.Layout, nil
}

// Observe verifies s against the cache and re-detects from s when the cached
// layout went stale, so the cache always reflects the latest verified sample.
func (d *Detector) Observe(ctx context.Context, assetKey string, s Sample) (Layout, error) {
	layout, err := d.Verify(ctx, assetKey, s)
	if errors.Is(err, ErrLayoutMismatch) {
		return d.Detect(ctx, assetKey, s)
	}
	return layout, err
}

// Invalidate drops the cached layout of assetKey.
func (d *Detector) Invalidate(assetKey string) {
	d.mu.Lock()
	_, ok := d.cache[assetKey]
	delete(d.cache, assetKey)
	d.mu.Unlock()

	if ok {
		observability.RecordCacheInvalidation()
		d.logger.Debug("layout invalidated", "asset", assetKey)
	}
}

// Entry returns the cached entry of assetKey.
func (d *Detector) Entry(assetKey string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.cache[assetKey]
	return e, ok
}

// Len returns the number of cached layouts.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

func (d *Detector) derive(ctx context.Context, assetKey string, s Sample) (Layout, error) {
	ix := s.Instruction
	variant, err := ClassifyLayout(len(ix.Accounts), ix.Data)
	if err != nil {
		d.reportUnknown(ctx, assetKey, s)
		return Layout{}, err
	}
	layout, err := deriveLayout(variant, ix, d.programID)
	if err != nil {
		return Layout{}, err
	}
	return layout, nil
}

func (d *Detector) reportUnknown(ctx context.Context, assetKey string, s Sample) {
	disc := s.Instruction.Data
	if len(disc) > 8 {
		disc = disc[:8]
	}
	disc = append([]byte(nil), disc...)

	observability.RecordUnknownFormat()
	d.logger.Warn("unknown instruction format",
		"asset", assetKey,
		"accounts", len(s.Instruction.Accounts),
		"discriminator", disc,
		"signature", s.Signature,
		"error_kind", "unknown_format",
	)
	if d.sink != nil {
		d.sink.OnUnknownFormat(ctx, domain.UnknownFormat{
			AssetKey:      assetKey,
			Discriminator: disc,
			AccountCount:  len(s.Instruction.Accounts),
			Signature:     s.Signature,
			ObservedAt:    d.now().UnixMilli(),
		})
	}
}
