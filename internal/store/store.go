// Package store defines the persistence interface for accounts, transactions,
// sync cursors, per-account locks and the append-only sync run audit log.
// Implementations: postgres (production) and memory (tests, dev mode).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/banksync/internal/domain"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrLockHeld means another sync run holds the account lock and its TTL
	// has not expired. Advisory: callers report SyncInProgress, never block.
	ErrLockHeld = errors.New("store: lock held")

	// ErrConflict means a concurrent write was detected. Callers retry once
	// with a fresh read before surfacing a failure.
	ErrConflict = errors.New("store: write conflict")
)

// Store is the storage contract for the sync engine. All transaction writes
// are upserts keyed by (account_id, external_id), so no code path can create
// a duplicate row for a redelivered delta.
type Store interface {
	// GetAccount loads one account by ID.
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)

	// GetAccountByExternalID resolves an account from the aggregator's item ID,
	// as delivered in webhooks.
	GetAccountByExternalID(ctx context.Context, externalAccountID string) (*domain.Account, error)

	// ListAccounts returns every linked account, for the periodic sync-all
	// trigger.
	ListAccounts(ctx context.Context) ([]*domain.Account, error)

	// SetSyncStatus updates the account's sync status and error message.
	SetSyncStatus(ctx context.Context, accountID string, status domain.SyncStatus, syncErr string) error

	// FlagRelink marks the account as needing user re-authentication.
	FlagRelink(ctx context.Context, accountID string) error

	// UpdateAccountBalance writes the balance snapshot only when asOf is newer
	// than the account's last_synced_at (stale reads are discarded). Returns
	// whether the write was applied.
	UpdateAccountBalance(ctx context.Context, accountID string, balance float64, asOf time.Time) (bool, error)

	// UpsertTransaction inserts or replaces the row keyed by
	// (tx.AccountID, tx.ExternalID).
	UpsertTransaction(ctx context.Context, tx *domain.Transaction) error

	// GetTransaction loads one transaction by its natural key.
	GetTransaction(ctx context.Context, accountID, externalID string) (*domain.Transaction, error)

	// MarkRemoved sets status=removed; the row is retained.
	MarkRemoved(ctx context.Context, accountID, externalID string) error

	// ListTransactions returns all transactions for the account.
	ListTransactions(ctx context.Context, accountID string) ([]*domain.Transaction, error)

	// GetCursor returns the account's sync cursor, nil if never set.
	GetCursor(ctx context.Context, accountID string) (*string, error)

	// SetCursor persists the cursor. Called once per fully committed page.
	SetCursor(ctx context.Context, accountID, cursor string) error

	// AcquireLock takes the per-account TTL lock, reclaiming it if a previous
	// holder's TTL expired. Returns ErrLockHeld when live.
	AcquireLock(ctx context.Context, accountID string, ttl time.Duration) error

	// ReleaseLock drops the lock. Releasing an absent lock is not an error.
	ReleaseLock(ctx context.Context, accountID string) error

	// CreateSyncRun inserts the run row at run start.
	CreateSyncRun(ctx context.Context, run *domain.SyncRun) error

	// FinalizeSyncRun writes counts, outcome and finish time exactly once.
	FinalizeSyncRun(ctx context.Context, run *domain.SyncRun) error

	// ListSyncRuns returns runs for an account within [from, to], newest first.
	ListSyncRuns(ctx context.Context, accountID string, from, to time.Time) ([]*domain.SyncRun, error)
}

// WithLock runs fn while holding the account lock, releasing it on every exit
// path. A held lock surfaces immediately as ErrLockHeld.
func WithLock(ctx context.Context, s Store, accountID string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if err := s.AcquireLock(ctx, accountID, ttl); err != nil {
		return err
	}
	defer func() {
		// Release on a fresh context so a cancelled run still unlocks.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.ReleaseLock(releaseCtx, accountID)
	}()
	return fn(ctx)
}
