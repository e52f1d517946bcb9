package solana

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when an endpoint answers HTTP 429.
var ErrRateLimited = errors.New("rate limited (429)")

// ErrClientClosed is returned by WSClient operations after Close.
var ErrClientClosed = errors.New("client closed")

// TransportError wraps a network-level failure: dial/read errors, timeouts
// and non-200 responses. Transport errors are safe to retry on another endpoint.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s): %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RPCError represents a JSON-RPC 2.0 error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// IsRetryable reports whether err may succeed against a different endpoint.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te)
}
