package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a single HTTP round trip.
const DefaultTimeout = 15 * time.Second

// maxResponseBytes caps a JSON-RPC response body.
const maxResponseBytes = 16 << 20

// Commitment level used for every read.
const commitmentConfirmed = "confirmed"

// HTTPClient implements RPCClient against one JSON-RPC endpoint.
// It makes one attempt per call; retries and failover belong to the caller.
type HTTPClient struct {
	endpoint string
	hostHint string
	client   *http.Client
	nextID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.client.Timeout = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) { c.client = client }
}

// WithHostHint overrides the Host header, so a backend reached by address
// still sees the canonical service name.
func WithHostHint(host string) ClientOption {
	return func(c *HTTPClient) { c.hostHint = host }
}

// NewHTTPClient creates a client for endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the backend URL.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// invoke posts one request and decodes its result into T. A null result
// yields the zero T.
func invoke[T any](ctx context.Context, c *HTTPClient, method string, params ...any) (T, error) {
	var out T
	raw, err := c.post(ctx, rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return out, err
	}

	var reply rpcReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return out, c.transport("decode reply", err)
	}
	if reply.Error != nil {
		if isThrottleCode(reply.Error.Code) {
			return out, fmt.Errorf("%s: %s: %w", c.endpoint, reply.Error.Message, ErrRateLimited)
		}
		return out, reply.Error
	}
	if len(reply.Result) == 0 || string(reply.Result) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(reply.Result, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", method, err)
	}
	return out, nil
}

// post sends req and returns the body of a 200 response.
func (c *HTTPClient) post(ctx context.Context, req rpcRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.hostHint != "" {
		httpReq.Host = c.hostHint
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.transport("send", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transport("read body", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s: %w", c.endpoint, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, c.transport("status", fmt.Errorf("%d %s", resp.StatusCode, bytes.TrimSpace(body)))
	}
	return body, nil
}

func (c *HTTPClient) transport(stage string, err error) error {
	return &TransportError{Endpoint: c.endpoint, Err: fmt.Errorf("%s: %w", stage, err)}
}

// isThrottleCode reports provider error codes that mean "rate limited".
func isThrottleCode(code int) bool {
	return code == 429 || code == -32429
}

type txRequestConfig struct {
	Encoding                       string `json:"encoding"`
	Commitment                     string `json:"commitment"`
	MaxSupportedTransactionVersion int    `json:"maxSupportedTransactionVersion"`
}

type wireTransaction struct {
	Slot      int64  `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err             any      `json:"err"`
		Fee             uint64   `json:"fee"`
		PreBalances     []uint64 `json:"preBalances"`
		PostBalances    []uint64 `json:"postBalances"`
		LogMessages     []string `json:"logMessages"`
		LoadedAddresses *struct {
			Writable []string `json:"writable"`
			Readonly []string `json:"readonly"`
		} `json:"loadedAddresses"`
	} `json:"meta"`
	Transaction *struct {
		Message *struct {
			AccountKeys  []string `json:"accountKeys"`
			Instructions []struct {
				ProgramIDIndex int    `json:"programIdIndex"`
				Accounts       []int  `json:"accounts"`
				Data           string `json:"data"`
			} `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction fetches a confirmed transaction. It returns nil, nil when
// the node does not know the signature.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	w, err := invoke[*wireTransaction](ctx, c, "getTransaction", signature, txRequestConfig{
		Encoding:                       "json",
		Commitment:                     commitmentConfirmed,
		MaxSupportedTransactionVersion: 0,
	})
	if err != nil || w == nil {
		return nil, err
	}
	return w.toTransaction(signature), nil
}

func (w *wireTransaction) toTransaction(signature string) *Transaction {
	tx := &Transaction{Slot: w.Slot, Signature: signature}
	if w.BlockTime != nil {
		tx.BlockTime = *w.BlockTime
	}

	if m := w.Meta; m != nil {
		tx.Meta = &TransactionMeta{
			Err:          m.Err,
			Fee:          m.Fee,
			PreBalances:  m.PreBalances,
			PostBalances: m.PostBalances,
			LogMessages:  m.LogMessages,
		}
		if m.LoadedAddresses != nil {
			tx.Meta.LoadedAddresses.Writable = m.LoadedAddresses.Writable
			tx.Meta.LoadedAddresses.Readonly = m.LoadedAddresses.Readonly
		}
	}

	if w.Transaction == nil || w.Transaction.Message == nil {
		return tx
	}
	msg := w.Transaction.Message
	tx.Message = &TransactionMessage{
		AccountKeys:  msg.AccountKeys,
		Instructions: make([]CompiledInstruction, len(msg.Instructions)),
	}
	for i, ix := range msg.Instructions {
		tx.Message.Instructions[i] = CompiledInstruction(ix)
	}
	return tx
}

type sigRequestConfig struct {
	Commitment string `json:"commitment"`
	Before     string `json:"before,omitempty"`
	Until      string `json:"until,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type wireSignature struct {
	Signature string `json:"signature"`
	Slot      int64  `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Err       any    `json:"err"`
}

// GetSignaturesForAddress lists signatures touching address, newest first.
func (c *HTTPClient) GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error) {
	cfg := sigRequestConfig{Commitment: commitmentConfirmed}
	if opts != nil {
		cfg.Before, cfg.Until, cfg.Limit = opts.Before, opts.Until, opts.Limit
	}

	wire, err := invoke[[]wireSignature](ctx, c, "getSignaturesForAddress", address, cfg)
	if err != nil {
		return nil, err
	}
	sigs := make([]SignatureInfo, len(wire))
	for i, s := range wire {
		sigs[i] = SignatureInfo(s)
	}
	return sigs, nil
}

// IsRPCError reports whether err carries a JSON-RPC error object.
func IsRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}
