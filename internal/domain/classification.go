package domain

// WalletClassification labels an account fresh or established.
// Re-classification of an address overwrites the previous record.
type WalletClassification struct {
	Address               string
	IsFresh               bool
	PriorTransactionCount int     // lower bound when Truncated
	AgeInDays             float64 // from the earliest observed block time
	ClassifiedAt          int64   // Unix timestamp in milliseconds
	Truncated             bool    // paging stopped early at the skip threshold or fetch cap
	TriggerSignature      string
}
