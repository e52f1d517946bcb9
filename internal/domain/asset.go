package domain

// AssetActivity records a fresh layout detection for a mint.
type AssetActivity struct {
	AssetKey        string            // mint
	Variant         string            // layout variant name
	DerivedAccounts map[string]string // role -> address
	Signature       string            // transaction the sample came from
	Wallet          string            // watched wallet that produced it
	DetectedAt      int64             // Unix timestamp in milliseconds
}

// UnknownFormat records an instruction shape no known layout matches.
type UnknownFormat struct {
	AssetKey      string
	Discriminator []byte
	AccountCount  int
	Signature     string
	ObservedAt    int64 // Unix timestamp in milliseconds
}
