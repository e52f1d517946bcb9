package solana

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// AccountNotification is a single accountSubscribe push message.
type AccountNotification struct {
	Address  string
	Slot     int64
	Lamports uint64
	Owner    string
}

// Instruction is a decoded instruction with resolved account addresses.
type Instruction struct {
	ProgramID string
	Accounts  []string
	Data      []byte
}
