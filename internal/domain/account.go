package domain

import "time"

// SyncStatus is the coarse sync state surfaced on an account.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncRunning SyncStatus = "running"
	SyncError   SyncStatus = "error"
)

// Account is one linked bank account. The cursor, balance and lock row are the
// only mutable shared state in the system; all writes go through the sync
// orchestrator's store calls.
type Account struct {
	ID                string
	ExternalAccountID string
	AccessToken       string

	// Cursor is the aggregator's opaque position token. Nil means the account
	// has never completed an initial sync page.
	Cursor *string

	SyncStatus     SyncStatus
	SyncError      string
	NeedsRelink    bool
	CurrentBalance float64
	LastSyncedAt   *time.Time
}
