package domain

// ChangeNotification is a lightweight signal that a monitored account changed.
// It carries no transaction detail; the resolver fetches that.
type ChangeNotification struct {
	Address  string // monitored account
	Slot     int64  // approximate slot from the push context
	Lamports uint64 // balance reported by the push message
}
