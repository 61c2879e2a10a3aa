// Package syncer coordinates one account sync run: it owns the per-account
// TTL lock, the pagination loop against the aggregator, the bounded retry
// policy, and the commit ordering that keeps the stored cursor behind the
// last fully processed page.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/dvloznov/banksync/internal/aggregator"
	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/events"
	"github.com/dvloznov/banksync/internal/jobs"
	"github.com/dvloznov/banksync/internal/logger"
	"github.com/dvloznov/banksync/internal/reconcile"
	"github.com/dvloznov/banksync/internal/store"
)

// ErrSyncInProgress is advisory: another run holds the account lock. The
// caller may retry later; it must never block waiting for the holder.
var ErrSyncInProgress = errors.New("sync already in progress for account")

// errPageLimit aborts the pagination loop when MaxPages is hit. The run is
// marked degraded and reported; this call does not keep fetching.
var errPageLimit = errors.New("page limit exceeded")

// Options are the orchestrator's tunables.
type Options struct {
	// LockTTL bounds how long a crashed run can hold the account lock.
	LockTTL time.Duration
	// LookbackDays is the initial sync window when no cursor exists.
	LookbackDays int
	// MaxPages caps one run; exceeding it marks the run degraded.
	MaxPages int
	// FetchRetries is the per-page retry cap for transient fetch failures.
	FetchRetries uint64
	// RetryBase is the first backoff interval; subsequent waits double.
	RetryBase time.Duration
	// RunTimeout bounds the whole run; expiry fails the run past the last
	// committed page.
	RunTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		LockTTL:      10 * time.Minute,
		LookbackDays: 90,
		MaxPages:     20,
		FetchRetries: 3,
		RetryBase:    500 * time.Millisecond,
		RunTimeout:   5 * time.Minute,
	}
}

// RunRecorder receives finalized sync runs, e.g. for mirroring into the
// analytics warehouse. Recording failures never fail the run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *domain.SyncRun)
}

// Orchestrator drives account syncs. Safe for concurrent use across accounts;
// the store lock serializes runs for any single account.
type Orchestrator struct {
	store    store.Store
	agg      aggregator.Client
	rec      *reconcile.Reconciler
	bal      *reconcile.BalanceReconciler
	sink     events.Sink
	recorder RunRecorder // optional
	opts     Options
	now      func() time.Time
}

// New creates an orchestrator.
func New(s store.Store, agg aggregator.Client, rec *reconcile.Reconciler, bal *reconcile.BalanceReconciler, sink events.Sink, opts Options) *Orchestrator {
	return &Orchestrator{
		store: s,
		agg:   agg,
		rec:   rec,
		bal:   bal,
		sink:  sink,
		opts:  opts,
		now:   time.Now,
	}
}

// SetRecorder attaches an optional finalized-run recorder.
func (o *Orchestrator) SetRecorder(r RunRecorder) { o.recorder = r }

// SyncAccount runs one sync for the account. If another run holds the lock it
// returns ErrSyncInProgress immediately. On every other exit path the lock is
// released, the run is finalized, and the cursor points at the last page
// whose reconciliation, categorization and balance update all completed.
func (o *Orchestrator) SyncAccount(ctx context.Context, accountID string, mode jobs.SyncMode) (*domain.SyncRun, error) {
	var run *domain.SyncRun
	err := store.WithLock(ctx, o.store, accountID, o.opts.LockTTL, func(ctx context.Context) error {
		var runErr error
		run, runErr = o.syncLocked(ctx, accountID, mode)
		return runErr
	})
	if errors.Is(err, store.ErrLockHeld) {
		return nil, ErrSyncInProgress
	}
	return run, err
}

// syncLocked is the body of one run; the caller holds the account lock.
func (o *Orchestrator) syncLocked(ctx context.Context, accountID string, mode jobs.SyncMode) (*domain.SyncRun, error) {
	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	run := &domain.SyncRun{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		StartedAt:    o.now(),
		CursorBefore: account.Cursor,
	}
	if err := o.store.CreateSyncRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}
	if err := o.store.SetSyncStatus(ctx, accountID, domain.SyncRunning, ""); err != nil {
		return nil, fmt.Errorf("set sync status: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()

	runErr := o.paginate(runCtx, account, mode, run)
	o.finalize(ctx, account, run, runErr)

	if runErr != nil && !errors.Is(runErr, errPageLimit) {
		return run, runErr
	}
	return run, nil
}

// paginate drives the fetch/reconcile/balance/cursor loop. The cursor is
// persisted after each page commits end-to-end, so a mid-stream failure
// preserves forward progress without reprocessing committed pages.
func (o *Orchestrator) paginate(ctx context.Context, account *domain.Account, mode jobs.SyncMode, run *domain.SyncRun) error {
	log := logger.FromContext(ctx)
	req := o.startPoint(account, mode)

	for {
		if run.Pages >= o.opts.MaxPages {
			return errPageLimit
		}

		page, err := o.fetchPage(ctx, account.AccessToken, req)
		if err != nil {
			return err
		}

		counts, err := o.rec.ApplyPage(ctx, account.ID, page)
		run.Added += counts.Added
		run.Modified += counts.Modified
		run.Removed += counts.Removed
		if counts.Degraded {
			run.Outcome = domain.RunDegraded
		}
		if err != nil {
			return fmt.Errorf("reconcile page: %w", err)
		}

		if err := o.bal.Apply(ctx, account); err != nil {
			return fmt.Errorf("balance: %w", err)
		}

		// The page is now fully committed; only here may the cursor advance.
		if page.NextCursor != "" {
			if err := o.store.SetCursor(ctx, account.ID, page.NextCursor); err != nil {
				return fmt.Errorf("set cursor: %w", err)
			}
			cursor := page.NextCursor
			run.CursorAfter = &cursor
			req = aggregator.FetchRequest{Cursor: page.NextCursor}
		}
		run.Pages++

		log.Debug().
			Str("account_id", account.ID).
			Int("page", run.Pages).
			Int("added", counts.Added).
			Int("modified", counts.Modified).
			Int("removed", counts.Removed).
			Msg("page committed")

		if !page.HasMore {
			return nil
		}
	}
}

// startPoint picks the first fetch request: incremental resumes from the
// stored cursor, initial (or a missing cursor) uses the lookback window.
func (o *Orchestrator) startPoint(account *domain.Account, mode jobs.SyncMode) aggregator.FetchRequest {
	if mode == jobs.ModeIncremental && account.Cursor != nil {
		return aggregator.FetchRequest{Cursor: *account.Cursor}
	}
	end := o.now()
	return aggregator.FetchRequest{Window: aggregator.Window{
		Start: end.AddDate(0, 0, -o.opts.LookbackDays),
		End:   end,
	}}
}

// fetchPage retries transient fetch failures with exponential backoff up to
// the configured cap. Auth failures are permanent and abort immediately.
func (o *Orchestrator) fetchPage(ctx context.Context, accessToken string, req aggregator.FetchRequest) (*aggregator.Page, error) {
	var page *aggregator.Page
	backoff := retry.WithMaxRetries(o.opts.FetchRetries, retry.NewExponential(o.opts.RetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := o.agg.Fetch(ctx, accessToken, req)
		if err != nil {
			var fetchErr *aggregator.FetchError
			if errors.As(err, &fetchErr) {
				return retry.RetryableError(err)
			}
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	return page, nil
}

// finalize writes the run record, account status and events for every exit
// path. The parent context (not the run timeout context) is used so a timed
// out run still finalizes.
func (o *Orchestrator) finalize(ctx context.Context, account *domain.Account, run *domain.SyncRun, runErr error) {
	log := logger.FromContext(ctx)
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	switch {
	case runErr == nil:
		if run.Outcome != domain.RunDegraded {
			run.Outcome = domain.RunSuccess
		}
	case errors.Is(runErr, errPageLimit):
		run.Outcome = domain.RunDegraded
		run.ErrorMessage = fmt.Sprintf("page limit of %d exceeded", o.opts.MaxPages)
	default:
		run.Outcome = domain.RunFailed
		run.ErrorMessage = runErr.Error()
	}
	now := o.now()
	run.FinishedAt = &now

	if err := o.store.FinalizeSyncRun(finCtx, run); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("failed to finalize sync run")
	}

	status := domain.SyncIdle
	syncErr := ""
	if run.Outcome == domain.RunFailed {
		status = domain.SyncError
		syncErr = run.ErrorMessage
	}
	if err := o.store.SetSyncStatus(finCtx, account.ID, status, syncErr); err != nil {
		log.Error().Err(err).Str("account_id", account.ID).Msg("failed to update sync status")
	}

	var authErr *aggregator.AuthError
	if errors.As(runErr, &authErr) {
		if err := o.store.FlagRelink(finCtx, account.ID); err != nil {
			log.Error().Err(err).Str("account_id", account.ID).Msg("failed to flag relink")
		}
	}

	o.sink.Emit(finCtx, events.AccountSynced, map[string]interface{}{
		"account_id": account.ID,
		"run_id":     run.ID,
		"outcome":    string(run.Outcome),
		"added":      run.Added,
		"modified":   run.Modified,
		"removed":    run.Removed,
	})

	if o.recorder != nil {
		o.recorder.RecordRun(finCtx, run)
	}
}
