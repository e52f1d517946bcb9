package listener

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-monitor/internal/domain"
	"solana-wallet-monitor/internal/solana"
	"solana-wallet-monitor/internal/solana/stub"
)

type transitions struct {
	mu   sync.Mutex
	seen map[string][]State
}

func (tr *transitions) record(address string, _, to State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.seen == nil {
		tr.seen = make(map[string][]State)
	}
	tr.seen[address] = append(tr.seen[address], to)
}

func (tr *transitions) of(address string) []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]State(nil), tr.seen[address]...)
}

func testConfig(tr *transitions) Config {
	return Config{
		BackoffBase:   5 * time.Millisecond,
		BackoffMax:    20 * time.Millisecond,
		MaxFailures:   3,
		Buffer:        16,
		OnStateChange: tr.record,
	}
}

func waitSubscribed(t *testing.T, ws *stub.WSClient, address string) {
	t.Helper()
	select {
	case got := <-ws.Subscribed:
		require.Equal(t, address, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for subscribe of %s", address)
	}
}

func recv(t *testing.T, ch <-chan domain.ChangeNotification) domain.ChangeNotification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
	return domain.ChangeNotification{}
}

func TestListener_WatchForwardsInOrder(t *testing.T) {
	ws := stub.NewWSClient()
	ws.Subscribed = make(chan string, 4)
	tr := &transitions{}
	l := New(ws, testConfig(tr), nil)
	defer l.Close()

	require.NoError(t, l.Watch("walletA"))
	waitSubscribed(t, ws, "walletA")

	for slot := int64(1); slot <= 5; slot++ {
		require.True(t, ws.Push("walletA", solana.AccountNotification{Slot: slot, Lamports: uint64(slot * 10)}))
	}
	for slot := int64(1); slot <= 5; slot++ {
		n := recv(t, l.Notifications())
		assert.Equal(t, "walletA", n.Address)
		assert.Equal(t, slot, n.Slot)
		assert.Equal(t, uint64(slot*10), n.Lamports)
	}

	state, ok := l.State("walletA")
	assert.True(t, ok)
	assert.Equal(t, StateActive, state)
	assert.Equal(t, []State{StateSubscribing, StateActive}, tr.of("walletA"))
}

func TestListener_WatchIdempotent(t *testing.T) {
	ws := stub.NewWSClient()
	ws.Subscribed = make(chan string, 4)
	l := New(ws, testConfig(&transitions{}), nil)
	defer l.Close()

	require.NoError(t, l.Watch("walletA"))
	require.NoError(t, l.Watch("walletA"))
	waitSubscribed(t, ws, "walletA")

	assert.Equal(t, 1, ws.Subscribes("walletA"))
	assert.Equal(t, []string{"walletA"}, l.Watched())
}

func TestListener_ResubscribesAfterDrop(t *testing.T) {
	ws := stub.NewWSClient()
	ws.Subscribed = make(chan string, 4)
	tr := &transitions{}
	l := New(ws, testConfig(tr), nil)
	defer l.Close()

	require.NoError(t, l.Watch("walletA"))
	waitSubscribed(t, ws, "walletA")

	ws.Drop("walletA", &solana.TransportError{Endpoint: "ws", Err: errors.New("reset")})
	waitSubscribed(t, ws, "walletA")

	require.True(t, ws.Push("walletA", solana.AccountNotification{Slot: 9}))
	assert.Equal(t, int64(9), recv(t, l.Notifications()).Slot)

	assert.Equal(t, []State{StateSubscribing, StateActive, StateError, StateSubscribing, StateActive}, tr.of("walletA"))
}

func TestListener_GivesUpAfterMaxFailures(t *testing.T) {
	ws := stub.NewWSClient()
	boom := &solana.TransportError{Endpoint: "ws", Err: errors.New("refused")}
	ws.FailNext("walletB", boom, boom, boom)

	tr := &transitions{}
	l := New(ws, testConfig(tr), nil)
	defer l.Close()

	require.NoError(t, l.Watch("walletB"))

	select {
	case u := <-l.Unmonitored():
		assert.Equal(t, "walletB", u.Address)
		assert.Equal(t, 3, u.Failures)
		assert.ErrorIs(t, u.Err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for unmonitored report")
	}

	_, ok := l.State("walletB")
	assert.False(t, ok)
	assert.Equal(t, 3, ws.Subscribes("walletB"))

	states := tr.of("walletB")
	require.NotEmpty(t, states)
	assert.Equal(t, StateUnsubscribed, states[len(states)-1])

	// The account can be watched again.
	require.NoError(t, l.Watch("walletB"))
}

func TestListener_FailuresResetAfterActive(t *testing.T) {
	ws := stub.NewWSClient()
	ws.Subscribed = make(chan string, 8)
	boom := errors.New("refused")
	ws.FailNext("walletC", boom, boom)

	l := New(ws, testConfig(&transitions{}), nil)
	defer l.Close()

	require.NoError(t, l.Watch("walletC"))
	waitSubscribed(t, ws, "walletC")

	// Two more failures after a successful subscription stay under the limit.
	ws.FailNext("walletC", boom)
	ws.Drop("walletC", boom)
	waitSubscribed(t, ws, "walletC")

	require.Eventually(t, func() bool {
		s, ok := l.State("walletC")
		return ok && s == StateActive
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, ws.Subscribes("walletC"))
}

func TestListener_Unwatch(t *testing.T) {
	ws := stub.NewWSClient()
	ws.Subscribed = make(chan string, 4)
	tr := &transitions{}
	l := New(ws, testConfig(tr), nil)
	defer l.Close()

	require.NoError(t, l.Watch("walletA"))
	waitSubscribed(t, ws, "walletA")
	sub := ws.Live("walletA")
	require.NotNil(t, sub)

	l.Unwatch("walletA")
	select {
	case <-sub.Done():
	default:
		t.Fatal("subscription should be torn down")
	}
	_, ok := l.State("walletA")
	assert.False(t, ok)

	// Idempotent, also for unknown addresses.
	l.Unwatch("walletA")
	l.Unwatch("never-watched")

	states := tr.of("walletA")
	assert.Equal(t, StateUnsubscribed, states[len(states)-1])
}

func TestListener_UnwatchDuringBackoff(t *testing.T) {
	ws := stub.NewWSClient()
	ws.FailNext("walletD", errors.New("refused"))

	cfg := testConfig(&transitions{})
	cfg.BackoffBase = time.Hour
	cfg.BackoffMax = time.Hour
	l := New(ws, cfg, nil)
	defer l.Close()

	require.NoError(t, l.Watch("walletD"))
	require.Eventually(t, func() bool {
		s, _ := l.State("walletD")
		return s == StateError
	}, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		l.Unwatch("walletD")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Unwatch blocked during backoff")
	}
}

func TestListener_Close(t *testing.T) {
	ws := stub.NewWSClient()
	ws.Subscribed = make(chan string, 4)
	l := New(ws, testConfig(&transitions{}), nil)

	require.NoError(t, l.Watch("a"))
	require.NoError(t, l.Watch("b"))
	<-ws.Subscribed
	<-ws.Subscribed

	l.Close()
	l.Close()

	_, open := <-l.Notifications()
	assert.False(t, open)
	_, open = <-l.Unmonitored()
	assert.False(t, open)

	assert.Nil(t, ws.Live("a"))
	assert.Nil(t, ws.Live("b"))
	assert.Empty(t, l.Watched())
	assert.ErrorIs(t, l.Watch("c"), ErrClosed)
}
