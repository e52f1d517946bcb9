// Package classifier labels wallets as fresh or established from their
// signature history.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/observability"
	"solana-wallet-monitor/internal/solana"
)

var (
	// ErrQueueFull is returned by TryEnqueue when the queue has no room.
	ErrQueueFull = errors.New("classification queue full")

	// ErrStopped is returned when enqueueing after the workers exited.
	ErrStopped = errors.New("classifier stopped")
)

// Config holds classification tuning.
type Config struct {
	Workers       int
	QueueSize     int
	FirstPage     int // size of the initial fast-path page
	PageSize      int // size of each deeper page
	MaxSignatures int // total fetch cap per job
	SkipThreshold int // stop paging once the count exceeds this
	Pacing        time.Duration
	FreshMaxPrior int // a wallet with at most this many prior signatures is fresh
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		Workers:       1,
		QueueSize:     1000,
		FirstPage:     10,
		PageSize:      100,
		MaxSignatures: 1000,
		SkipThreshold: 500,
		Pacing:        15 * time.Millisecond,
		FreshMaxPrior: 0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.FirstPage <= 0 {
		c.FirstPage = d.FirstPage
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.MaxSignatures <= 0 {
		c.MaxSignatures = d.MaxSignatures
	}
	if c.SkipThreshold <= 0 {
		c.SkipThreshold = d.SkipThreshold
	}
	if c.Pacing < 0 {
		c.Pacing = 0
	}
	if c.FreshMaxPrior < 0 {
		c.FreshMaxPrior = 0
	}
	return c
}

// Job is a request to classify one address.
type Job struct {
	Address string
	// TriggerSignature is the transfer that surfaced the address. It is not
	// counted as prior history.
	TriggerSignature string
}

// ResultHandler receives every completed classification.
type ResultHandler func(ctx context.Context, c *domain.WalletClassification)

// Option configures a Classifier.
type Option func(*Classifier)

// WithResultHandler registers h to receive results. Handlers run on the
// worker goroutine in registration order.
func WithResultHandler(h ResultHandler) Option {
	return func(c *Classifier) {
		c.handlers = append(c.handlers, h)
	}
}

// WithClock overrides the time source used for ages and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

// Classifier drains a bounded FIFO queue of classification jobs with a fixed
// worker pool.
type Classifier struct {
	rpc      solana.RPCClient
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	handlers []ResultHandler

	queue   chan Job
	stopped atomic.Bool

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a classifier. Call Run to start the workers.
func New(rpc solana.RPCClient, cfg Config, logger *slog.Logger, opts ...Option) *Classifier {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{
		rpc:     rpc,
		cfg:     cfg,
		logger:  logger.With("component", "classifier"),
		now:     time.Now,
		queue:   make(chan Job, cfg.QueueSize),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// claim marks address pending. It returns false when a job for it is already
// queued or running.
func (c *Classifier) claim(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[address]; ok {
		return false
	}
	c.pending[address] = struct{}{}
	return true
}

func (c *Classifier) unclaim(address string) {
	c.mu.Lock()
	delete(c.pending, address)
	c.mu.Unlock()
}

// Enqueue places job on the queue, blocking while the queue is full.
// queued is false when the address already has a pending job.
func (c *Classifier) Enqueue(ctx context.Context, job Job) (queued bool, err error) {
	if c.stopped.Load() {
		return false, ErrStopped
	}
	if !c.claim(job.Address) {
		return false, nil
	}

	select {
	case c.queue <- job:
		observability.SetQueueDepth(len(c.queue))
		return true, nil
	case <-ctx.Done():
		c.unclaim(job.Address)
		return false, ctx.Err()
	}
}

// TryEnqueue places job on the queue without blocking.
func (c *Classifier) TryEnqueue(job Job) (queued bool, err error) {
	if c.stopped.Load() {
		return false, ErrStopped
	}
	if !c.claim(job.Address) {
		return false, nil
	}

	select {
	case c.queue <- job:
		observability.SetQueueDepth(len(c.queue))
		return true, nil
	default:
		c.unclaim(job.Address)
		return false, ErrQueueFull
	}
}

// QueueDepth returns the number of jobs waiting.
func (c *Classifier) QueueDepth() int {
	return len(c.queue)
}

// Run starts the workers and blocks until ctx is cancelled.
func (c *Classifier) Run(ctx context.Context) error {
	c.logger.Info("classifier started", "workers", c.cfg.Workers, "queue_size", c.cfg.QueueSize)
	defer c.stopped.Store(true)

	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		workerID := i
		g.Go(func() error {
			return c.worker(gCtx, workerID)
		})
	}

	err := g.Wait()
	c.logger.Info("classifier stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Classifier) worker(ctx context.Context, workerID int) error {
	log := c.logger.With("worker", workerID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-c.queue:
			observability.SetQueueDepth(len(c.queue))
			c.process(ctx, log, job)
		}
	}
}

// process runs one job. A panicking job is recovered so the worker survives.
func (c *Classifier) process(ctx context.Context, log *slog.Logger, job Job) {
	defer c.unclaim(job.Address)
	defer func() {
		if r := recover(); r != nil {
			observability.RecordClassifierPanic()
			log.Error("classification panicked",
				"address", job.Address,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	start := time.Now()
	result, err := c.Classify(ctx, job)
	if err != nil {
		observability.RecordClassification("error", time.Since(start).Seconds())
		log.Warn("classification failed",
			"address", job.Address,
			"error", err,
		)
		return
	}

	outcome := "established"
	if result.IsFresh {
		outcome = "fresh"
	}
	observability.RecordClassification(outcome, time.Since(start).Seconds())
	log.Info("wallet classified",
		"address", result.Address,
		"fresh", result.IsFresh,
		"prior_count", result.PriorTransactionCount,
		"age_days", result.AgeInDays,
		"truncated", result.Truncated,
	)

	for _, h := range c.handlers {
		h(ctx, result)
	}
}

// Classify runs the classification algorithm for job synchronously.
//
// The first page is small so a wallet without history costs one round trip.
// Deeper pages stop at the skip threshold, the fetch cap, or the end of
// history, with a pacing delay before each one.
func (c *Classifier) Classify(ctx context.Context, job Job) (*domain.WalletClassification, error) {
	result := &domain.WalletClassification{
		Address:          job.Address,
		TriggerSignature: job.TriggerSignature,
	}

	var (
		prior    int
		fetched  int
		earliest int64
		before   string
	)
	count := func(page []solana.SignatureInfo) {
		for _, s := range page {
			if s.BlockTime != nil && *s.BlockTime > 0 && (earliest == 0 || *s.BlockTime < earliest) {
				earliest = *s.BlockTime
			}
			if s.Signature == job.TriggerSignature {
				continue
			}
			prior++
		}
		fetched += len(page)
		if len(page) > 0 {
			before = page[len(page)-1].Signature
		}
	}

	page, err := c.rpc.GetSignaturesForAddress(ctx, job.Address, &solana.SignaturesOpts{Limit: c.cfg.FirstPage})
	if err != nil {
		return nil, fmt.Errorf("first page for %s: %w", job.Address, err)
	}
	count(page)
	complete := len(page) < c.cfg.FirstPage

	for !complete {
		if prior > c.cfg.SkipThreshold || fetched >= c.cfg.MaxSignatures {
			result.Truncated = true
			break
		}
		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		limit := c.cfg.PageSize
		if remaining := c.cfg.MaxSignatures - fetched; remaining < limit {
			limit = remaining
		}
		page, err = c.rpc.GetSignaturesForAddress(ctx, job.Address, &solana.SignaturesOpts{
			Before: before,
			Limit:  limit,
		})
		if err != nil {
			return nil, fmt.Errorf("page before %s for %s: %w", before, job.Address, err)
		}
		count(page)
		complete = len(page) < limit
	}

	now := c.now()
	result.PriorTransactionCount = prior
	result.IsFresh = !result.Truncated && prior <= c.cfg.FreshMaxPrior
	result.ClassifiedAt = now.UnixMilli()
	if earliest > 0 {
		age := now.Sub(time.Unix(earliest, 0)).Hours() / 24
		if age < 0 {
			age = 0
		}
		result.AgeInDays = age
	}
	return result, nil
}

func (c *Classifier) pace(ctx context.Context) error {
	if c.cfg.Pacing <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.cfg.Pacing)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
