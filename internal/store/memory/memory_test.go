package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/store"
)

func TestAccountLookup(t *testing.T) {
	s := New()
	s.PutAccount(&domain.Account{ID: "acc-1", ExternalAccountID: "item-9"})

	a, err := s.GetAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "item-9", a.ExternalAccountID)

	byExt, err := s.GetAccountByExternalID(context.Background(), "item-9")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", byExt.ID)

	_, err = s.GetAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetAccountByExternalID(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertTransactionKeyedByExternalID(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := &domain.Transaction{AccountID: "acc-1", ExternalID: "tx-1", Amount: -5, Category: "Shopping"}
	require.NoError(t, s.UpsertTransaction(ctx, first))
	require.NotEmpty(t, first.CreatedAt)

	// Second upsert on the same key updates in place.
	second := &domain.Transaction{AccountID: "acc-1", ExternalID: "tx-1", Amount: -7, Category: "Shopping"}
	require.NoError(t, s.UpsertTransaction(ctx, second))
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "created_at preserved across upserts")

	txs, err := s.ListTransactions(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, -7.0, txs[0].Amount)

	// Same external ID under a different account is a distinct row.
	other := &domain.Transaction{AccountID: "acc-2", ExternalID: "tx-1", Amount: -1}
	require.NoError(t, s.UpsertTransaction(ctx, other))
	txs, err = s.ListTransactions(ctx, "acc-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestMarkRemoved(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertTransaction(ctx, &domain.Transaction{AccountID: "acc-1", ExternalID: "tx-1"}))
	require.NoError(t, s.MarkRemoved(ctx, "acc-1", "tx-1"))

	tx, err := s.GetTransaction(ctx, "acc-1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRemoved, tx.Status)

	assert.ErrorIs(t, s.MarkRemoved(ctx, "acc-1", "never-seen"), store.ErrNotFound)
}

func TestLockLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.AcquireLock(ctx, "acc-1", time.Minute))
	assert.ErrorIs(t, s.AcquireLock(ctx, "acc-1", time.Minute), store.ErrLockHeld)

	// A different account is an independent lock.
	require.NoError(t, s.AcquireLock(ctx, "acc-2", time.Minute))

	require.NoError(t, s.ReleaseLock(ctx, "acc-1"))
	require.NoError(t, s.AcquireLock(ctx, "acc-1", time.Minute))
}

func TestLockTTLExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.AcquireLock(ctx, "acc-1", 10*time.Minute))
	assert.ErrorIs(t, s.AcquireLock(ctx, "acc-1", 10*time.Minute), store.ErrLockHeld)

	// A crashed holder never releases; the TTL reclaims the lock.
	now = base.Add(11 * time.Minute)
	require.NoError(t, s.AcquireLock(ctx, "acc-1", 10*time.Minute))
}

func TestUpdateAccountBalanceMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutAccount(&domain.Account{ID: "acc-1"})

	t1 := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	applied, err := s.UpdateAccountBalance(ctx, "acc-1", 100, t1)
	require.NoError(t, err)
	assert.True(t, applied)

	// Older and equal snapshots are discarded.
	applied, err = s.UpdateAccountBalance(ctx, "acc-1", 50, t1.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)
	applied, err = s.UpdateAccountBalance(ctx, "acc-1", 50, t1)
	require.NoError(t, err)
	assert.False(t, applied)

	a, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, a.CurrentBalance)

	applied, err = s.UpdateAccountBalance(ctx, "acc-1", 75, t1.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestCursorRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutAccount(&domain.Account{ID: "acc-1"})

	c, err := s.GetCursor(ctx, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, s.SetCursor(ctx, "acc-1", "cur-1"))
	c, err = s.GetCursor(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "cur-1", *c)
}

func TestSyncRunLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	started := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	run := &domain.SyncRun{ID: "run-1", AccountID: "acc-1", StartedAt: started}
	require.NoError(t, s.CreateSyncRun(ctx, run))

	finished := started.Add(time.Minute)
	run.FinishedAt = &finished
	run.Outcome = domain.RunSuccess
	require.NoError(t, s.FinalizeSyncRun(ctx, run))

	// Append-only: a finished run cannot be finalized again.
	assert.ErrorIs(t, s.FinalizeSyncRun(ctx, run), store.ErrConflict)

	runs, err := s.ListSyncRuns(ctx, "acc-1", started.Add(-time.Hour), started.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunSuccess, runs[0].Outcome)

	// Out-of-range queries return nothing.
	runs, err = s.ListSyncRuns(ctx, "acc-1", started.Add(time.Hour), started.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSetSyncStatusAndRelink(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutAccount(&domain.Account{ID: "acc-1"})

	require.NoError(t, s.SetSyncStatus(ctx, "acc-1", domain.SyncError, "boom"))
	a, _ := s.GetAccount(ctx, "acc-1")
	assert.Equal(t, domain.SyncError, a.SyncStatus)
	assert.Equal(t, "boom", a.SyncError)

	require.NoError(t, s.FlagRelink(ctx, "acc-1"))
	a, _ = s.GetAccount(ctx, "acc-1")
	assert.True(t, a.NeedsRelink)

	assert.ErrorIs(t, s.SetSyncStatus(ctx, "missing", domain.SyncIdle, ""), store.ErrNotFound)
}
