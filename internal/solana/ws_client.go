package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClientConfig configures WebSocket client behavior. Zero fields take the
// value from DefaultWSConfig.
type WSClientConfig struct {
	HandshakeTimeout   time.Duration // websocket dial
	SubscribeTimeout   time.Duration // wait for the subscription id
	PingInterval       time.Duration
	ReadTimeout        time.Duration // max silence before the connection is dropped
	WriteTimeout       time.Duration
	SubscriptionBuffer int    // per-subscription notification buffer
	Commitment         string // commitment of every subscription
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		HandshakeTimeout:   10 * time.Second,
		SubscribeTimeout:   15 * time.Second,
		PingInterval:       30 * time.Second,
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		SubscriptionBuffer: 256,
		Commitment:         "confirmed",
	}
}

func (c WSClientConfig) withDefaults() WSClientConfig {
	d := DefaultWSConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = d.SubscribeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SubscriptionBuffer <= 0 {
		c.SubscriptionBuffer = d.SubscriptionBuffer
	}
	if c.Commitment == "" {
		c.Commitment = d.Commitment
	}
	return c
}

// URLSource returns the websocket URL to dial next.
type URLSource func() string

// StaticURL returns a URLSource that always yields url.
func StaticURL(url string) URLSource {
	return func() string { return url }
}

// WSClientImpl implements WSClient over gorilla/websocket.
//
// All subscriptions share one connection, dialed on first use and re-dialed
// by the next subscribe after it fails. Losing the connection ends every
// subscription made on it; re-subscribing is the caller's decision.
type WSClientImpl struct {
	urls   URLSource
	config WSClientConfig
	logger *slog.Logger

	nextID atomic.Uint64
	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *wsSession
	dialing *dialCall
}

// NewWSClient creates a client. Nothing is dialed until the first subscription.
func NewWSClient(urls URLSource, config *WSClientConfig, logger *slog.Logger) *WSClientImpl {
	var cfg WSClientConfig
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClientImpl{
		urls:   urls,
		config: cfg.withDefaults(),
		logger: logger.With("component", "ws"),
		done:   make(chan struct{}),
	}
}

// session returns the live connection, dialing one if needed. Concurrent
// callers share one dial, made outside c.mu.
func (c *WSClientImpl) session(ctx context.Context) (*wsSession, error) {
	for {
		c.mu.Lock()
		if c.closed.Load() {
			c.mu.Unlock()
			return nil, ErrClientClosed
		}
		if s := c.current; s != nil {
			c.mu.Unlock()
			return s, nil
		}
		if call := c.dialing; call != nil {
			c.mu.Unlock()
			select {
			case <-call.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.done:
				return nil, ErrClientClosed
			}
			// A dial aborted by its caller's context is retried by the others.
			if call.err != nil && !errors.Is(call.err, context.Canceled) {
				return nil, call.err
			}
			continue
		}
		call := &dialCall{done: make(chan struct{})}
		c.dialing = call
		c.mu.Unlock()

		return c.dial(ctx, call)
	}
}

type dialCall struct {
	done chan struct{}
	err  error
}

func (c *WSClientImpl) dial(ctx context.Context, call *dialCall) (*wsSession, error) {
	defer close(call.done)

	url := c.urls()
	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialing = nil

	if err != nil {
		call.err = &TransportError{Endpoint: url, Err: fmt.Errorf("websocket dial: %w", err)}
		return nil, call.err
	}
	if c.closed.Load() {
		conn.Close()
		call.err = ErrClientClosed
		return nil, call.err
	}

	s := &wsSession{
		client:  c,
		conn:    conn,
		url:     url,
		subs:    make(map[int64]*AccountSubscription),
		pending: make(map[uint64]pendingAck),
		stop:    make(chan struct{}),
	}
	c.current = s
	c.logger.Info("websocket connected", "url", url)

	c.wg.Add(2)
	go s.readLoop()
	go s.keepalive()
	return s, nil
}

// drop retires s after a failure and ends its subscriptions with a transport error.
func (c *WSClientImpl) drop(s *wsSession, cause error) {
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()

	if s.end(&TransportError{Endpoint: s.url, Err: cause}) {
		c.logger.Warn("websocket connection lost", "url", s.url, "error_kind", "transport", "error", cause)
	}
}

// AccountSubscribe subscribes to lamport changes of address.
func (c *WSClientImpl) AccountSubscribe(ctx context.Context, address string) (*AccountSubscription, error) {
	s, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	sub := newAccountSubscription(address, c.config.SubscriptionBuffer)
	ack := make(chan error, 1)
	if !s.expect(id, pendingAck{sub: sub, result: ack}) {
		return nil, &TransportError{Endpoint: s.url, Err: errors.New("connection closed before subscribe")}
	}

	err = s.send(wsRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountSubscribe",
		Params:  []any{address, subscribeConfig{Encoding: "base64", Commitment: c.config.Commitment}},
	})
	if err != nil {
		s.forget(id)
		c.drop(s, fmt.Errorf("write subscribe: %w", err))
		return nil, &TransportError{Endpoint: s.url, Err: fmt.Errorf("write subscribe: %w", err)}
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case err := <-ack:
		if err != nil {
			return nil, err
		}
		return sub, nil
	case <-timer.C:
		err := &TransportError{Endpoint: s.url, Err: fmt.Errorf("no subscription id after %s", c.config.SubscribeTimeout)}
		c.abandon(s, id, sub, err)
		return nil, err
	case <-c.done:
		return nil, ErrClientClosed
	case <-ctx.Done():
		c.abandon(s, id, sub, ctx.Err())
		return nil, ctx.Err()
	}
}

// abandon gives up on a subscribe request. An acknowledgement may already have
// registered sub, so it is released, ended and unsubscribed on the node.
func (c *WSClientImpl) abandon(s *wsSession, id uint64, sub *AccountSubscription, cause error) {
	if !s.abandon(id, sub, cause) {
		return
	}
	err := s.send(wsRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "accountUnsubscribe",
		Params:  []any{sub.ID},
	})
	if err != nil {
		c.logger.Warn("accountUnsubscribe write failed", "subscription", sub.ID, "error", err)
	}
}

// Unsubscribe ends sub and sends accountUnsubscribe when its connection is
// still up. Safe to call more than once.
func (c *WSClientImpl) Unsubscribe(_ context.Context, sub *AccountSubscription) error {
	if sub == nil {
		return nil
	}

	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	owned := s != nil && s.release(sub)
	sub.finish(nil)
	if !owned || c.closed.Load() {
		return nil
	}

	err := s.send(wsRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "accountUnsubscribe",
		Params:  []any{sub.ID},
	})
	if err != nil {
		c.logger.Warn("accountUnsubscribe write failed", "subscription", sub.ID, "error", err)
	}
	return nil
}

// Close closes the connection and ends every subscription with ErrClientClosed.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()

	if s != nil {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.end(ErrClientClosed)
	}

	c.wg.Wait()
	return nil
}

type pendingAck struct {
	sub    *AccountSubscription
	result chan error
}

// wsSession is one websocket connection and the subscriptions made on it.
type wsSession struct {
	client *WSClientImpl
	conn   *websocket.Conn
	url    string

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[int64]*AccountSubscription // by subscription id
	pending map[uint64]pendingAck          // by request id
	ended   bool
	stop    chan struct{}
}

func (s *wsSession) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.client.config.WriteTimeout))
	return s.conn.WriteJSON(v)
}

// expect registers a subscribe request. It fails once the session has ended.
func (s *wsSession) expect(id uint64, p pendingAck) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.pending[id] = p
	return true
}

func (s *wsSession) forget(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// abandon drops the pending request id and ends sub with cause. It reports
// whether sub had already been registered by an acknowledgement.
func (s *wsSession) abandon(id uint64, sub *AccountSubscription, cause error) bool {
	s.forget(id)
	registered := s.release(sub)
	sub.finish(cause)
	return registered
}

// release removes sub if it is live on this session.
func (s *wsSession) release(sub *AccountSubscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[sub.ID] != sub {
		return false
	}
	delete(s.subs, sub.ID)
	return true
}

// end closes the connection and fails everything registered on it with
// cause. Only the first call has an effect; it reports whether it was first.
func (s *wsSession) end(cause error) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.ended = true
	subs, pending := s.subs, s.pending
	s.subs, s.pending = nil, nil
	s.mu.Unlock()

	close(s.stop)
	s.conn.Close()

	for _, sub := range subs {
		sub.finish(cause)
	}
	for _, p := range pending {
		p.result <- cause
	}
	return true
}

func (s *wsSession) readLoop() {
	defer s.client.wg.Done()

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.client.config.ReadTimeout))
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if !s.client.closed.Load() {
				s.client.drop(s, fmt.Errorf("read: %w", err))
			}
			return
		}
		s.dispatch(message)
	}
}

func (s *wsSession) keepalive() {
	defer s.client.wg.Done()

	ticker := time.NewTicker(s.client.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.client.config.WriteTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				s.client.drop(s, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (s *wsSession) dispatch(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.client.logger.Warn("undecodable websocket message", "error_kind", "decode", "error", err)
		return
	}

	switch {
	case msg.Method == "accountNotification":
		var params accountNotificationParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.client.logger.Warn("undecodable account notification", "error_kind", "decode", "error", err)
			return
		}
		s.notify(params)
	case msg.ID != 0:
		s.acknowledge(msg)
	}
}

// acknowledge resolves a pending subscribe. The subscription is registered
// before the caller is released so no notification for it is missed.
func (s *wsSession) acknowledge(msg wsMessage) {
	var subID int64
	var result error
	if msg.Error != nil {
		result = msg.Error
	} else if err := json.Unmarshal(msg.Result, &subID); err != nil {
		result = fmt.Errorf("decode subscription id: %w", err)
	}

	s.mu.Lock()
	p, ok := s.pending[msg.ID]
	if ok {
		delete(s.pending, msg.ID)
		if result == nil {
			p.sub.ID = subID
			s.subs[subID] = p.sub
		}
	}
	s.mu.Unlock()

	if ok {
		p.result <- result
	}
}

// notify hands a notification to its subscriber. It blocks rather than drop
// an event of a live subscription.
func (s *wsSession) notify(params accountNotificationParams) {
	s.mu.Lock()
	sub, ok := s.subs[params.Subscription]
	s.mu.Unlock()
	if !ok {
		return
	}

	n := AccountNotification{
		Address:  sub.Address,
		Slot:     params.Result.Context.Slot,
		Lamports: params.Result.Value.Lamports,
		Owner:    params.Result.Value.Owner,
	}
	select {
	case sub.ch <- n:
	case <-sub.done:
	case <-s.stop:
	}
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type subscribeConfig struct {
	Encoding   string `json:"encoding"`
	Commitment string `json:"commitment"`
}

// wsMessage is either a reply (ID set) or a notification (Method set).
type wsMessage struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Params json.RawMessage `json:"params"`
	Error  *RPCError       `json:"error"`
}

type accountNotificationParams struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Context struct {
			Slot int64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Lamports uint64 `json:"lamports"`
			Owner    string `json:"owner"`
		} `json:"value"`
	} `json:"result"`
}
