package solana

import (
	"context"
	"sync"
)

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// AccountSubscribe opens an accountSubscribe stream for address.
	AccountSubscribe(ctx context.Context, address string) (*AccountSubscription, error)

	// Unsubscribe tears down a subscription. Safe to call more than once.
	Unsubscribe(ctx context.Context, sub *AccountSubscription) error

	// Close closes the WebSocket connection and every subscription.
	Close() error
}

// AccountSubscription is a live accountSubscribe stream.
// C never closes; Done closes when the subscription ends for any reason.
type AccountSubscription struct {
	ID      int64
	Address string

	ch   chan AccountNotification
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

func newAccountSubscription(address string, buffer int) *AccountSubscription {
	return &AccountSubscription{
		Address: address,
		ch:      make(chan AccountNotification, buffer),
		done:    make(chan struct{}),
	}
}

// C delivers notifications in arrival order.
func (s *AccountSubscription) C() <-chan AccountNotification {
	return s.ch
}

// Done is closed when the subscription is torn down or its connection fails.
func (s *AccountSubscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure cause, or nil after a clean Unsubscribe.
func (s *AccountSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// NewAccountSubscription creates a subscription for WSClient implementations
// that live outside this package.
func NewAccountSubscription(id int64, address string, buffer int) *AccountSubscription {
	s := newAccountSubscription(address, buffer)
	s.ID = id
	return s
}

// Deliver hands n to the subscriber, blocking until it is buffered or the
// subscription ends. It reports whether n was accepted.
func (s *AccountSubscription) Deliver(n AccountNotification) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- n:
		return true
	case <-s.done:
		return false
	}
}

// End terminates the subscription with cause; nil marks a clean teardown.
func (s *AccountSubscription) End(cause error) {
	s.finish(cause)
}

func (s *AccountSubscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}
