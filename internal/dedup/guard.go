// Package dedup suppresses repeated processing of the same transaction signature.
package dedup

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults for the recent-signature window.
const (
	DefaultWindow   = 10 * time.Minute
	DefaultCapacity = 100_000
)

// Guard remembers signatures claimed within a sliding window, bounded by an
// LRU so memory stays flat under bursts.
type Guard struct {
	mu    sync.Mutex
	store *expirable.LRU[string, struct{}]
}

// New creates a guard remembering up to capacity signatures for window.
func New(window time.Duration, capacity int) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Guard{
		store: expirable.NewLRU[string, struct{}](capacity, nil, window),
	}
}

// TryAcquire claims signature. It returns false when the signature was already
// claimed inside the window; exactly one of any set of concurrent callers wins.
func (g *Guard) TryAcquire(signature string) bool {
	if signature == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.store.Peek(signature); ok {
		return false
	}
	g.store.Add(signature, struct{}{})
	return true
}

// Release forgets signature so a later notification may process it again.
// Used when processing failed before producing any side effect.
func (g *Guard) Release(signature string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store.Remove(signature)
}

// Len returns the number of signatures currently remembered.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.Len()
}
