package stub

import (
	"context"
	"sync"

	"solana-wallet-monitor/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
// Signatures are stored newest first, the order the node returns them.
type RPCClient struct {
	mu           sync.Mutex
	transactions map[string]*solana.Transaction
	signatures   map[string][]solana.SignatureInfo

	// Err, when set, is returned by every call.
	Err error

	TransactionCalls int
	SignatureCalls   int
	SignatureLimits  []int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		transactions: make(map[string]*solana.Transaction),
		signatures:   make(map[string][]solana.SignatureInfo),
	}
}

// GetTransaction retrieves a transaction by signature from the stub store.
// Unknown signatures yield nil, nil like the node does.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.TransactionCalls++
	if c.Err != nil {
		return nil, c.Err
	}
	return c.transactions[signature], nil
}

// GetSignaturesForAddress pages stored signatures honoring Before, Until and Limit.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.SignatureCalls++
	limit := 1000
	if opts != nil && opts.Limit > 0 {
		limit = opts.Limit
	}
	c.SignatureLimits = append(c.SignatureLimits, limit)
	if c.Err != nil {
		return nil, c.Err
	}

	sigs := c.signatures[address]
	start := 0
	if opts != nil && opts.Before != "" {
		start = len(sigs)
		for i, s := range sigs {
			if s.Signature == opts.Before {
				start = i + 1
				break
			}
		}
	}

	var out []solana.SignatureInfo
	for i := start; i < len(sigs) && len(out) < limit; i++ {
		if opts != nil && opts.Until != "" && sigs[i].Signature == opts.Until {
			break
		}
		out = append(out, sigs[i])
	}
	return out, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions[tx.Signature] = tx
}

// AddSignatures replaces the signature history of address.
func (c *RPCClient) AddSignatures(address string, sigs []solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signatures[address] = sigs
}

// PrependSignatures records newer signatures ahead of the existing history.
func (c *RPCClient) PrependSignatures(address string, sigs ...solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signatures[address] = append(append([]solana.SignatureInfo{}, sigs...), c.signatures[address]...)
}

// Calls returns the number of GetTransaction and GetSignaturesForAddress calls.
func (c *RPCClient) Calls() (transactions, signatures int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.TransactionCalls, c.SignatureCalls
}
