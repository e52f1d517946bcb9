package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeNode acknowledges accountSubscribe requests with sequential IDs and
// pushes one notification per subscription.
func fakeNode(t *testing.T, lamports uint64, closeAfterNotify bool) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		nextSub := int64(100)
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				t.Errorf("unmarshal request: %v", err)
				return
			}
			if req.Method != "accountSubscribe" {
				continue
			}

			subID := nextSub
			nextSub++
			c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": subID})
			c.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "accountNotification",
				"params": map[string]interface{}{
					"subscription": subID,
					"result": map[string]interface{}{
						"context": map[string]interface{}{"slot": 777},
						"value":   map[string]interface{}{"lamports": lamports, "owner": SystemProgramID},
					},
				},
			})
			if closeAfterNotify {
				time.Sleep(50 * time.Millisecond)
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSClient_AccountSubscribe(t *testing.T) {
	server := fakeNode(t, 42, false)

	client := NewWSClient(StaticURL(wsURL(server)), nil, nil)
	defer client.Close()

	sub, err := client.AccountSubscribe(context.Background(), "walletA")
	if err != nil {
		t.Fatalf("AccountSubscribe: %v", err)
	}
	if sub.ID != 100 {
		t.Errorf("expected subscription id 100, got %d", sub.ID)
	}

	select {
	case n := <-sub.C():
		if n.Address != "walletA" {
			t.Errorf("expected walletA, got %s", n.Address)
		}
		if n.Slot != 777 {
			t.Errorf("expected slot 777, got %d", n.Slot)
		}
		if n.Lamports != 42 {
			t.Errorf("expected 42 lamports, got %d", n.Lamports)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}

	if err := client.Unsubscribe(context.Background(), sub); err != nil {
		t.Errorf("Unsubscribe: %v", err)
	}
	select {
	case <-sub.Done():
	default:
		t.Error("Done should be closed after Unsubscribe")
	}
	if sub.Err() != nil {
		t.Errorf("expected nil Err after clean unsubscribe, got %v", sub.Err())
	}

	// Idempotent.
	if err := client.Unsubscribe(context.Background(), sub); err != nil {
		t.Errorf("second Unsubscribe: %v", err)
	}
}

func TestWSClient_ConnectionLossEndsSubscriptions(t *testing.T) {
	server := fakeNode(t, 1, true)

	client := NewWSClient(StaticURL(wsURL(server)), nil, nil)
	defer client.Close()

	sub, err := client.AccountSubscribe(context.Background(), "walletB")
	if err != nil {
		t.Fatalf("AccountSubscribe: %v", err)
	}

	<-sub.C()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription should end when the connection drops")
	}

	var te *TransportError
	if !errors.As(sub.Err(), &te) {
		t.Errorf("expected TransportError, got %v", sub.Err())
	}

	// Next subscribe re-dials.
	sub2, err := client.AccountSubscribe(context.Background(), "walletB")
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if sub2 == sub {
		t.Error("expected a new subscription")
	}
}

func TestWSClient_DialFailure(t *testing.T) {
	client := NewWSClient(StaticURL("ws://127.0.0.1:1"), nil, nil)
	defer client.Close()

	_, err := client.AccountSubscribe(context.Background(), "walletC")

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("dial failure should be retryable")
	}
}

func TestWSClient_SubscribeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			json.Unmarshal(msg, &req)
			c.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]interface{}{"code": -32602, "message": "Invalid param: WrongSize"},
			})
		}
	}))
	defer server.Close()

	client := NewWSClient(StaticURL(wsURL(server)), nil, nil)
	defer client.Close()

	_, err := client.AccountSubscribe(context.Background(), "bad")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
}

func TestWSClient_Close(t *testing.T) {
	server := fakeNode(t, 1, false)

	client := NewWSClient(StaticURL(wsURL(server)), nil, nil)

	sub, err := client.AccountSubscribe(context.Background(), "walletD")
	if err != nil {
		t.Fatalf("AccountSubscribe: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !client.closed.Load() {
		t.Error("client should be closed")
	}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("Close should end subscriptions")
	}
	if !errors.Is(sub.Err(), ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", sub.Err())
	}

	// Double close should be safe
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}

	if _, err := client.AccountSubscribe(context.Background(), "walletD"); !errors.Is(err, ErrClientClosed) {
		t.Errorf("expected ErrClientClosed after Close, got %v", err)
	}
}

func TestDefaultWSConfig(t *testing.T) {
	cfg := DefaultWSConfig()
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("expected PingInterval 30s, got %v", cfg.PingInterval)
	}
	if cfg.SubscriptionBuffer <= 0 {
		t.Errorf("expected positive buffer, got %d", cfg.SubscriptionBuffer)
	}
	if cfg.Commitment != "confirmed" {
		t.Errorf("expected confirmed commitment, got %s", cfg.Commitment)
	}
}

func TestWSClientConfig_ZeroFieldsTakeDefaults(t *testing.T) {
	cfg := WSClientConfig{PingInterval: time.Second, Commitment: "finalized"}.withDefaults()
	if cfg.PingInterval != time.Second {
		t.Errorf("expected explicit PingInterval kept, got %v", cfg.PingInterval)
	}
	if cfg.Commitment != "finalized" {
		t.Errorf("expected explicit commitment kept, got %s", cfg.Commitment)
	}
	if cfg.ReadTimeout != 60*time.Second {
		t.Errorf("expected default ReadTimeout, got %v", cfg.ReadTimeout)
	}
	if cfg.SubscriptionBuffer != 256 {
		t.Errorf("expected default buffer, got %d", cfg.SubscriptionBuffer)
	}
}

func TestWSSession_AbandonReleasesAcknowledgedSubscription(t *testing.T) {
	client := NewWSClient(StaticURL("ws://unused"), nil, nil)
	defer client.Close()

	s := &wsSession{
		client:  client,
		subs:    make(map[int64]*AccountSubscription),
		pending: make(map[uint64]pendingAck),
		stop:    make(chan struct{}),
	}
	sub := newAccountSubscription("walletE", 1)
	if !s.expect(7, pendingAck{sub: sub, result: make(chan error, 1)}) {
		t.Fatal("expect should register on a live session")
	}

	// The acknowledgement lands just as the caller gives up.
	s.acknowledge(wsMessage{ID: 7, Result: json.RawMessage("55")})
	if !s.abandon(7, sub, context.Canceled) {
		t.Fatal("expected the acknowledged subscription to be released")
	}

	select {
	case <-sub.Done():
	default:
		t.Fatal("abandoned subscription should be ended")
	}
	if !errors.Is(sub.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", sub.Err())
	}
	if len(s.subs) != 0 {
		t.Errorf("expected no live subscriptions, got %d", len(s.subs))
	}

	// Later notifications for the id are ignored rather than blocking the reader.
	var params accountNotificationParams
	params.Subscription = 55
	done := make(chan struct{})
	go func() {
		s.notify(params)
		s.notify(params)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked on an abandoned subscription")
	}
}

func TestWSSession_AbandonBeforeAck(t *testing.T) {
	s := &wsSession{
		subs:    make(map[int64]*AccountSubscription),
		pending: make(map[uint64]pendingAck),
		stop:    make(chan struct{}),
	}
	sub := newAccountSubscription("walletF", 1)
	s.expect(3, pendingAck{sub: sub, result: make(chan error, 1)})

	if s.abandon(3, sub, context.DeadlineExceeded) {
		t.Error("unacknowledged subscription should not report as registered")
	}
	if len(s.pending) != 0 {
		t.Errorf("expected pending request dropped, got %d", len(s.pending))
	}

	// A late acknowledgement finds nothing to register.
	s.acknowledge(wsMessage{ID: 3, Result: json.RawMessage("56")})
	if len(s.subs) != 0 {
		t.Errorf("late ack registered a subscription")
	}
}

func TestWSClient_DialDoesNotBlockUnsubscribe(t *testing.T) {
	// Accepts TCP but never answers the websocket handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	cfg := DefaultWSConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	client := NewWSClient(StaticURL("ws://"+ln.Addr().String()), &cfg, nil)
	defer client.Close()

	dialing := make(chan error, 1)
	go func() {
		_, err := client.AccountSubscribe(context.Background(), "walletG")
		dialing <- err
	}()

	// Wait until the dial is in flight.
	deadline := time.Now().Add(time.Second)
	for {
		client.mu.Lock()
		inFlight := client.dialing != nil
		client.mu.Unlock()
		if inFlight {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dial never started")
		}
		time.Sleep(time.Millisecond)
	}

	returned := make(chan struct{})
	go func() {
		client.Unsubscribe(context.Background(), newAccountSubscription("walletH", 1))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Unsubscribe waited on the dial")
	}

	// A second subscriber joins the in-flight dial instead of dialing again.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.AccountSubscribe(ctx, "walletI"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline while waiting for the shared dial, got %v", err)
	}

	select {
	case err := <-dialing:
		var te *TransportError
		if !errors.As(err, &te) {
			t.Errorf("expected handshake timeout as TransportError, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dial did not time out")
	}
}
