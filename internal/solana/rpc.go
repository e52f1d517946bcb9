package solana

import "context"

// RPCClient defines the Solana RPC HTTP interface used by the monitor.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	// Returns nil, nil when the node does not know the signature.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetSignaturesForAddress retrieves signatures for an address with pagination.
	// Signatures are returned newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err             interface{}
	Fee             uint64
	PreBalances     []uint64
	PostBalances    []uint64
	LoadedAddresses LoadedAddresses
	LogMessages     []string
}

// LoadedAddresses are accounts pulled in through address lookup tables (v0 transactions).
type LoadedAddresses struct {
	Writable []string
	Readonly []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys  []string
	Instructions []CompiledInstruction
}

// CompiledInstruction is an instruction referencing accounts by index.
type CompiledInstruction struct {
	ProgramIDIndex int
	Accounts       []int
	Data           string // base58 encoded
}

// Succeeded reports whether the transaction executed without error.
func (tx *Transaction) Succeeded() bool {
	return tx != nil && tx.Meta != nil && tx.Meta.Err == nil
}

// AllAccountKeys returns static account keys followed by loaded writable and
// readonly addresses. Balance arrays are indexed against this ordering.
func (tx *Transaction) AllAccountKeys() []string {
	if tx == nil || tx.Message == nil {
		return nil
	}
	keys := make([]string, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if tx.Meta != nil {
		keys = append(keys, tx.Meta.LoadedAddresses.Writable...)
		keys = append(keys, tx.Meta.LoadedAddresses.Readonly...)
	}
	return keys
}
