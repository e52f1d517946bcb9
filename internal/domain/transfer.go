package domain

import "github.com/shopspring/decimal"

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

var lamportsPerSOL = decimal.NewFromInt(LamportsPerSOL)

// TransferEvent is a resolved transfer out of a monitored account.
// Signature is the natural key; events are immutable once built.
type TransferEvent struct {
	Signature string
	Slot      int64
	BlockTime int64  // Unix seconds, 0 when the node did not report one
	Source    string // monitored account
	Recipient string // participant with the largest positive balance delta
	Amount    int64  // recipient delta in lamports
	Success   bool
}

// AmountSOL returns Amount converted to SOL.
func (e *TransferEvent) AmountSOL() decimal.Decimal {
	return LamportsToSOL(e.Amount)
}

// LamportsToSOL converts lamports to SOL without float rounding.
func LamportsToSOL(lamports int64) decimal.Decimal {
	return decimal.NewFromInt(lamports).Div(lamportsPerSOL)
}

// SOLToLamports converts a SOL amount to lamports, truncating sub-lamport digits.
func SOLToLamports(sol decimal.Decimal) int64 {
	return sol.Mul(lamportsPerSOL).IntPart()
}
