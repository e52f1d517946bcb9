// Package rotator spreads outbound RPC calls across several backend hosts.
package rotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"solana-wallet-monitor/internal/observability"
	"solana-wallet-monitor/internal/solana"
)

var (
	// ErrRateLimitExceeded is returned when every attempt of a logical call
	// failed with a retryable error.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrNoEndpoints is returned by New when no endpoint is configured.
	ErrNoEndpoints = errors.New("no endpoints configured")
)

// Default settings.
const (
	DefaultMaxAttempts    = 3
	DefaultRequestTimeout = 15 * time.Second
)

// EndpointConfig describes one backend host.
type EndpointConfig struct {
	URL   string `yaml:"url"`
	WSURL string `yaml:"ws_url"`
}

// Config configures the rotator.
type Config struct {
	Endpoints []EndpointConfig
	// CanonicalHost is sent as the Host header so backends accept the call
	// as if addressed to the canonical service.
	CanonicalHost  string
	MaxAttempts    int
	RequestTimeout time.Duration
	// PerEndpointRPS caps requests per second per endpoint; 0 disables pacing.
	PerEndpointRPS float64
	Disabled       bool
}

// Endpoint is one backend RPC host with its counters.
type Endpoint struct {
	URL   string
	WSURL string

	rpc     solana.RPCClient
	limiter *rate.Limiter

	requests atomic.Int64
	failures atomic.Int64
	lastUsed atomic.Int64 // unix nanos
}

// RPC returns the single-shot client bound to this endpoint.
func (e *Endpoint) RPC() solana.RPCClient {
	return e.rpc
}

// EndpointStats is a snapshot of one endpoint's counters.
type EndpointStats struct {
	URL         string    `json:"url"`
	Requests    int64     `json:"requests"`
	Failures    int64     `json:"failures"`
	SuccessRate float64   `json:"success_rate"`
	LastUsed    time.Time `json:"last_used,omitempty"`
}

// Stats is a snapshot of the rotator state.
type Stats struct {
	Enabled   bool            `json:"enabled"`
	Endpoints []EndpointStats `json:"endpoints"`
}

// ClientFactory builds the single-shot RPC client for an endpoint.
type ClientFactory func(ep EndpointConfig, canonicalHost string, timeout time.Duration) solana.RPCClient

// Option configures a Rotator.
type Option func(*Rotator)

// WithClientFactory overrides how per-endpoint clients are built.
func WithClientFactory(f ClientFactory) Option {
	return func(r *Rotator) {
		r.factory = f
	}
}

// Rotator selects endpoints round-robin and retries failed calls on the
// next endpoint up to a fixed number of attempts.
type Rotator struct {
	endpoints []*Endpoint
	cfg       Config
	factory   ClientFactory
	logger    *slog.Logger

	next    atomic.Uint64
	wsNext  atomic.Uint64
	enabled atomic.Bool
}

func defaultFactory(ep EndpointConfig, canonicalHost string, timeout time.Duration) solana.RPCClient {
	opts := []solana.ClientOption{solana.WithTimeout(timeout)}
	if canonicalHost != "" {
		opts = append(opts, solana.WithHostHint(canonicalHost))
	}
	return solana.NewHTTPClient(ep.URL, opts...)
}

// New creates a rotator over cfg.Endpoints. The first endpoint is the primary.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Rotator, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Rotator{
		cfg:     cfg,
		factory: defaultFactory,
		logger:  logger.With("component", "rotator"),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, ec := range cfg.Endpoints {
		if ec.URL == "" {
			return nil, errors.New("endpoint with empty url")
		}
		ep := &Endpoint{
			URL:   ec.URL,
			WSURL: ec.WSURL,
			rpc:   r.factory(ec, cfg.CanonicalHost, cfg.RequestTimeout),
		}
		if ep.WSURL == "" {
			ep.WSURL = websocketURL(ec.URL)
		}
		if cfg.PerEndpointRPS > 0 {
			burst := int(cfg.PerEndpointRPS)
			if burst < 1 {
				burst = 1
			}
			ep.limiter = rate.NewLimiter(rate.Limit(cfg.PerEndpointRPS), burst)
		}
		r.endpoints = append(r.endpoints, ep)
	}

	r.enabled.Store(!cfg.Disabled)
	observability.SetRotatorEnabled(!cfg.Disabled)
	return r, nil
}

// websocketURL derives the websocket address of an http(s) endpoint.
func websocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}

// Endpoints returns the configured endpoints.
func (r *Rotator) Endpoints() []*Endpoint {
	return r.endpoints
}

// NextEndpoint returns the next endpoint in round-robin order, or the
// primary endpoint while rotation is disabled.
func (r *Rotator) NextEndpoint() *Endpoint {
	if !r.enabled.Load() {
		return r.endpoints[0]
	}
	n := r.next.Add(1) - 1
	return r.endpoints[n%uint64(len(r.endpoints))]
}

// NextWebsocketURL returns the websocket address to dial next.
func (r *Rotator) NextWebsocketURL() string {
	if !r.enabled.Load() {
		return r.endpoints[0].WSURL
	}
	n := r.wsNext.Add(1) - 1
	return r.endpoints[n%uint64(len(r.endpoints))].WSURL
}

// RecordResult updates the counters of ep.
func (r *Rotator) RecordResult(ep *Endpoint, success bool) {
	ep.requests.Add(1)
	if !success {
		ep.failures.Add(1)
	}
	ep.lastUsed.Store(time.Now().UnixNano())
}

// Execute runs fn against successive endpoints until it succeeds, fails with
// a non-retryable error, or MaxAttempts is reached. Attempts of one call go to
// distinct endpoints when enough are configured. Each attempt is bounded by
// RequestTimeout; a timeout counts as a transport failure.
func (r *Rotator) Execute(ctx context.Context, method string, fn func(ctx context.Context, ep *Endpoint) error) error {
	start := time.Now()
	defer func() {
		observability.RecordRPCLatency(method, time.Since(start).Seconds())
	}()

	var base uint64
	enabled := r.enabled.Load()
	if enabled {
		base = r.next.Add(1) - 1
	}

	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		ep := r.endpoints[0]
		if enabled {
			ep = r.endpoints[(base+uint64(attempt))%uint64(len(r.endpoints))]
		}

		if ep.limiter != nil {
			if err := ep.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// The pacing delay would outlive ctx's deadline: count it as
				// throttled and try the next endpoint.
				observability.RecordRPCAttempt(ep.URL, "throttled")
				lastErr = fmt.Errorf("%s: %v: %w", ep.URL, err, solana.ErrRateLimited)
				continue
			}
		}

		err := r.attempt(ctx, ep, fn)
		if err == nil {
			r.RecordResult(ep, true)
			observability.RecordRPCAttempt(ep.URL, "ok")
			return nil
		}

		if ctx.Err() != nil {
			r.RecordResult(ep, false)
			return ctx.Err()
		}

		if !retryable(err) {
			// The endpoint answered; the request itself was rejected.
			r.RecordResult(ep, true)
			observability.RecordRPCAttempt(ep.URL, "rpc_error")
			return err
		}

		r.RecordResult(ep, false)
		observability.RecordRPCAttempt(ep.URL, attemptStatus(err))
		r.logger.Debug("rpc attempt failed",
			"method", method,
			"endpoint", ep.URL,
			"attempt", attempt+1,
			"error", err,
		)
		lastErr = err
	}

	observability.RecordRotatorExhausted()
	r.logger.Warn("rpc retries exhausted",
		"method", method,
		"attempts", r.cfg.MaxAttempts,
		"error_kind", "rate_limit_exceeded",
		"error", lastErr,
	)
	return fmt.Errorf("%s: %w after %d attempts: %w", method, ErrRateLimitExceeded, r.cfg.MaxAttempts, lastErr)
}

func (r *Rotator) attempt(ctx context.Context, ep *Endpoint, fn func(ctx context.Context, ep *Endpoint) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	err := fn(attemptCtx, ep)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		var te *solana.TransportError
		if !errors.As(err, &te) {
			err = &solana.TransportError{Endpoint: ep.URL, Err: err}
		}
	}
	return err
}

func retryable(err error) bool {
	return solana.IsRetryable(err)
}

func attemptStatus(err error) string {
	if errors.Is(err, solana.ErrRateLimited) {
		return "rate_limited"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "transport_error"
}

// Enable turns on rotation across all endpoints.
func (r *Rotator) Enable() {
	r.enabled.Store(true)
	observability.SetRotatorEnabled(true)
	r.logger.Info("endpoint rotation enabled", "endpoints", len(r.endpoints))
}

// Disable routes every call to the primary endpoint.
func (r *Rotator) Disable() {
	r.enabled.Store(false)
	observability.SetRotatorEnabled(false)
	r.logger.Info("endpoint rotation disabled", "primary", r.endpoints[0].URL)
}

// Enabled reports whether rotation is on.
func (r *Rotator) Enabled() bool {
	return r.enabled.Load()
}

// Stats returns per-endpoint counters.
func (r *Rotator) Stats() Stats {
	s := Stats{
		Enabled:   r.enabled.Load(),
		Endpoints: make([]EndpointStats, len(r.endpoints)),
	}
	for i, ep := range r.endpoints {
		req := ep.requests.Load()
		fail := ep.failures.Load()
		es := EndpointStats{
			URL:      ep.URL,
			Requests: req,
			Failures: fail,
		}
		if req > 0 {
			es.SuccessRate = float64(req-fail) / float64(req)
		}
		if ts := ep.lastUsed.Load(); ts > 0 {
			es.LastUsed = time.Unix(0, ts)
		}
		s.Endpoints[i] = es
	}
	return s
}
