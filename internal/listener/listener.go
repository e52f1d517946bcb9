// Package listener keeps one push subscription per monitored account and
// turns its messages into change notifications.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/observability"
	"solana-wallet-monitor/internal/solana"
)

// ErrClosed is returned by Watch after Close.
var ErrClosed = errors.New("listener closed")

// errSubscriptionEnded marks a subscription that ended without a cause.
var errSubscriptionEnded = errors.New("subscription ended")

// State is the subscription state of a monitored account.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	}
	return "unsubscribed"
}

// Config configures the listener.
type Config struct {
	BackoffBase time.Duration // first re-subscribe delay (default: 1s)
	BackoffMax  time.Duration // delay cap (default: 30s)
	MaxFailures int           // consecutive failures before giving up (default: 5)
	Buffer      int           // notification channel capacity (default: 1024)
	// OnStateChange is called on every transition, outside any lock.
	OnStateChange func(address string, from, to State)
}

// Unmonitored reports an account the listener gave up on.
type Unmonitored struct {
	Address  string
	Failures int
	Err      error
}

type account struct {
	address   string
	createdAt time.Time
	state     State
	cancel    context.CancelFunc
	done      chan struct{}
}

// Listener manages per-account subscriptions. Each account is served by one
// goroutine, so notifications of an account keep delivery order.
type Listener struct {
	ws     solana.WSClient
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	out         chan domain.ChangeNotification
	unmonitored chan Unmonitored

	mu       sync.Mutex
	accounts map[string]*account
	closed   bool
	wg       sync.WaitGroup
}

// New creates a listener on top of ws.
func New(ws solana.WSClient, cfg Config, logger *slog.Logger) *Listener {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		ws:          ws,
		cfg:         cfg,
		logger:      logger.With("component", "listener"),
		ctx:         ctx,
		cancel:      cancel,
		out:         make(chan domain.ChangeNotification, cfg.Buffer),
		unmonitored: make(chan Unmonitored, cfg.Buffer),
		accounts:    make(map[string]*account),
	}
}

// Notifications delivers change notifications of every watched account.
// Closed by Close.
func (l *Listener) Notifications() <-chan domain.ChangeNotification {
	return l.out
}

// Unmonitored delivers accounts dropped after repeated failures. Closed by Close.
func (l *Listener) Unmonitored() <-chan Unmonitored {
	return l.unmonitored
}

// Watch starts monitoring address. Watching an already watched address is a no-op.
func (l *Listener) Watch(address string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if _, ok := l.accounts[address]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(l.ctx)
	acc := &account{
		address:   address,
		createdAt: time.Now(),
		state:     StateUnsubscribed,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	l.accounts[address] = acc

	l.wg.Add(1)
	go l.run(ctx, acc)
	return nil
}

// Unwatch stops monitoring address and waits for its subscription to be torn
// down. Unknown addresses are ignored.
func (l *Listener) Unwatch(address string) {
	l.mu.Lock()
	acc, ok := l.accounts[address]
	if ok {
		delete(l.accounts, address)
	}
	l.mu.Unlock()

	if !ok {
		return
	}
	acc.cancel()
	<-acc.done
}

// State returns the subscription state of address.
func (l *Listener) State(address string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[address]
	if !ok {
		return StateUnsubscribed, false
	}
	return acc.state, true
}

// Watched returns the addresses currently monitored.
func (l *Listener) Watched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.accounts))
	for addr := range l.accounts {
		out = append(out, addr)
	}
	return out
}

// Close tears down every subscription and closes the output channels.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()

	l.mu.Lock()
	l.accounts = make(map[string]*account)
	l.mu.Unlock()

	close(l.out)
	close(l.unmonitored)
}

func (l *Listener) setState(acc *account, to State) {
	l.mu.Lock()
	from := acc.state
	acc.state = to
	active := 0
	for _, a := range l.accounts {
		if a.state == StateActive {
			active++
		}
	}
	l.mu.Unlock()

	if from == to {
		return
	}
	observability.RecordSubscriptionState(to.String())
	observability.SetActiveSubscriptions(active)
	if l.cfg.OnStateChange != nil {
		l.cfg.OnStateChange(acc.address, from, to)
	}
}

func (l *Listener) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.BackoffBase
	b.MaxInterval = l.cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// run drives the state machine of one account until it is unwatched or gives up.
func (l *Listener) run(ctx context.Context, acc *account) {
	defer l.wg.Done()
	defer close(acc.done)

	log := l.logger.With("address", acc.address)
	b := l.newBackoff()
	failures := 0

	for {
		l.setState(acc, StateSubscribing)
		sub, err := l.ws.AccountSubscribe(ctx, acc.address)
		if err == nil {
			l.setState(acc, StateActive)
			log.Info("subscription active", "subscription", sub.ID)
			failures = 0
			b.Reset()

			err = l.forward(ctx, acc, sub)
			l.ws.Unsubscribe(context.Background(), sub)
		}

		if ctx.Err() != nil {
			l.setState(acc, StateUnsubscribed)
			log.Info("subscription closed")
			return
		}

		failures++
		l.setState(acc, StateError)
		log.Warn("subscription failed",
			"failures", failures,
			"error_kind", "transport",
			"error", err,
		)

		if failures >= l.cfg.MaxFailures {
			l.giveUp(ctx, acc, failures, err)
			return
		}

		delay := b.NextBackOff()
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			l.setState(acc, StateUnsubscribed)
			return
		}
	}
}

func (l *Listener) giveUp(ctx context.Context, acc *account, failures int, err error) {
	l.mu.Lock()
	if l.accounts[acc.address] == acc {
		delete(l.accounts, acc.address)
	}
	l.mu.Unlock()

	l.setState(acc, StateUnsubscribed)
	observability.RecordUnmonitored()
	l.logger.Error("account unmonitored",
		"address", acc.address,
		"failures", failures,
		"error", err,
	)

	select {
	case l.unmonitored <- Unmonitored{Address: acc.address, Failures: failures, Err: err}:
	case <-ctx.Done():
	}
}

// forward relays notifications of sub until it ends or ctx is cancelled.
func (l *Listener) forward(ctx context.Context, acc *account, sub *solana.AccountSubscription) error {
	for {
		select {
		case n := <-sub.C():
			if !l.emit(ctx, acc, n) {
				return ctx.Err()
			}
		case <-sub.Done():
			// Flush what was buffered before the end.
			for {
				select {
				case n := <-sub.C():
					if !l.emit(ctx, acc, n) {
						return ctx.Err()
					}
				default:
					if err := sub.Err(); err != nil {
						return err
					}
					return fmt.Errorf("%s: %w", acc.address, errSubscriptionEnded)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Listener) emit(ctx context.Context, acc *account, n solana.AccountNotification) bool {
	observability.RecordNotification()
	select {
	case l.out <- domain.ChangeNotification{Address: acc.address, Slot: n.Slot, Lamports: n.Lamports}:
		return true
	case <-ctx.Done():
		return false
	}
}
