package reconcile

import (
	"context"
	"fmt"

	"github.com/dvloznov/banksync/internal/aggregator"
	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/logger"
	"github.com/dvloznov/banksync/internal/store"
)

// BalanceReconciler refreshes the account's authoritative balance from the
// aggregator after each committed page. The balance is fetched, never derived
// by summing transactions, so rounding and pending-state drift cannot creep in.
type BalanceReconciler struct {
	agg   aggregator.Client
	store store.Store
}

// NewBalance creates a balance reconciler.
func NewBalance(agg aggregator.Client, s store.Store) *BalanceReconciler {
	return &BalanceReconciler{agg: agg, store: s}
}

// Apply fetches the current balance snapshot and writes it through the
// store's monotonic guard: snapshots older than the account's last_synced_at
// are discarded, not applied.
func (b *BalanceReconciler) Apply(ctx context.Context, account *domain.Account) error {
	snap, err := b.agg.GetBalance(ctx, account.AccessToken)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	applied, err := b.store.UpdateAccountBalance(ctx, account.ID, snap.Balance, snap.AsOf)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if !applied {
		log := logger.FromContext(ctx)
		log.Debug().
			Str("account_id", account.ID).
			Time("as_of", snap.AsOf).
			Msg("stale balance snapshot discarded")
	}
	return nil
}
