package stub

import (
	"context"
	"sync"

	"solana-wallet-monitor/internal/solana"
)

// WSClient implements solana.WSClient for testing. Subscriptions are created
// in memory and driven with Push and Drop.
type WSClient struct {
	mu         sync.Mutex
	nextID     int64
	live       map[string]*solana.AccountSubscription
	failures   map[string][]error
	subscribes map[string]int
	closed     bool

	// Subscribed receives the address of every successful subscribe when non-nil.
	Subscribed chan string
}

// NewWSClient creates a new stub websocket client.
func NewWSClient() *WSClient {
	return &WSClient{
		live:       make(map[string]*solana.AccountSubscription),
		failures:   make(map[string][]error),
		subscribes: make(map[string]int),
	}
}

// AccountSubscribe opens an in-memory subscription, or returns the next queued
// failure for address.
func (w *WSClient) AccountSubscribe(_ context.Context, address string) (*solana.AccountSubscription, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, solana.ErrClientClosed
	}
	w.subscribes[address]++
	if errs := w.failures[address]; len(errs) > 0 {
		err := errs[0]
		w.failures[address] = errs[1:]
		w.mu.Unlock()
		return nil, err
	}
	w.nextID++
	sub := solana.NewAccountSubscription(w.nextID, address, 16)
	w.live[address] = sub
	notify := w.Subscribed
	w.mu.Unlock()

	if notify != nil {
		notify <- address
	}
	return sub, nil
}

// Unsubscribe ends sub cleanly.
func (w *WSClient) Unsubscribe(_ context.Context, sub *solana.AccountSubscription) error {
	if sub == nil {
		return nil
	}
	w.mu.Lock()
	if w.live[sub.Address] == sub {
		delete(w.live, sub.Address)
	}
	w.mu.Unlock()
	sub.End(nil)
	return nil
}

// Close ends every live subscription.
func (w *WSClient) Close() error {
	w.mu.Lock()
	w.closed = true
	live := w.live
	w.live = make(map[string]*solana.AccountSubscription)
	w.mu.Unlock()

	for _, sub := range live {
		sub.End(solana.ErrClientClosed)
	}
	return nil
}

// FailNext makes the next len(errs) subscribes for address fail in order.
func (w *WSClient) FailNext(address string, errs ...error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[address] = append(w.failures[address], errs...)
}

// Push delivers n to the live subscription of address.
func (w *WSClient) Push(address string, n solana.AccountNotification) bool {
	w.mu.Lock()
	sub := w.live[address]
	w.mu.Unlock()
	if sub == nil {
		return false
	}
	n.Address = address
	return sub.Deliver(n)
}

// Drop ends the live subscription of address with cause, as a lost connection would.
func (w *WSClient) Drop(address string, cause error) {
	w.mu.Lock()
	sub := w.live[address]
	delete(w.live, address)
	w.mu.Unlock()
	if sub != nil {
		sub.End(cause)
	}
}

// Live returns the live subscription of address, if any.
func (w *WSClient) Live(address string) *solana.AccountSubscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.live[address]
}

// Subscribes returns how many subscribe attempts were made for address.
func (w *WSClient) Subscribes(address string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.subscribes[address]
}
