package rotator

import (
	"context"

	"solana-wallet-monitor/internal/solana"
)

// Client is a solana.RPCClient whose calls go through a Rotator, so each one
// is paced, retried and failed over across endpoints.
type Client struct {
	r *Rotator
}

var _ solana.RPCClient = (*Client)(nil)

// NewClient returns an RPC client backed by r.
func NewClient(r *Rotator) *Client {
	return &Client{r: r}
}

// rotate runs fn under r.Execute and returns the value of the attempt that succeeded.
func rotate[T any](ctx context.Context, r *Rotator, method string, fn func(context.Context, solana.RPCClient) (T, error)) (T, error) {
	var out T
	err := r.Execute(ctx, method, func(ctx context.Context, ep *Endpoint) error {
		v, err := fn(ctx, ep.RPC())
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

func (c *Client) GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	return rotate(ctx, c.r, "getTransaction", func(ctx context.Context, rpc solana.RPCClient) (*solana.Transaction, error) {
		return rpc.GetTransaction(ctx, signature)
	})
}

func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	return rotate(ctx, c.r, "getSignaturesForAddress", func(ctx context.Context, rpc solana.RPCClient) ([]solana.SignatureInfo, error) {
		return rpc.GetSignaturesForAddress(ctx, address, opts)
	})
}
