package domain

import "time"

// RunOutcome classifies how a sync run ended.
type RunOutcome string

const (
	// RunSuccess means every page was fetched and committed.
	RunSuccess RunOutcome = "success"
	// RunFailed means the run aborted; the cursor stays at the last committed page.
	RunFailed RunOutcome = "failed"
	// RunDegraded means the run committed what it could but hit a limit
	// (page cap, embedding generator unavailable) and needs operator follow-up.
	RunDegraded RunOutcome = "degraded"
)

// SyncRun is one append-only audit record per sync_account invocation.
// Finalized exactly once; never mutated afterwards.
type SyncRun struct {
	ID        string
	AccountID string

	StartedAt  time.Time
	FinishedAt *time.Time

	CursorBefore *string
	CursorAfter  *string

	Added    int
	Modified int
	Removed  int
	Pages    int

	Outcome      RunOutcome
	ErrorMessage string
}

// Lock is the TTL-bounded per-account mutex row. A lock whose AcquiredAt+TTL
// has passed may be reclaimed by a later acquire (crash recovery).
type Lock struct {
	AccountID  string
	AcquiredAt time.Time
	TTL        time.Duration
}

// ExpiresAt returns the instant after which the lock may be reclaimed.
func (l Lock) ExpiresAt() time.Time {
	return l.AcquiredAt.Add(l.TTL)
}
