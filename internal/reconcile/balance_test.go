package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/banksync/internal/aggregator"
	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/store/memory"
)

func TestBalanceApply(t *testing.T) {
	st := memory.New()
	st.PutAccount(&domain.Account{ID: "acc-1", AccessToken: "tok"})

	asOf := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	agg := &aggregator.Fake{Balance: aggregator.BalanceSnapshot{Balance: 1204.33, AsOf: asOf}}

	bal := NewBalance(agg, st)
	account, _ := st.GetAccount(context.Background(), "acc-1")
	if err := bal.Apply(context.Background(), account); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, _ := st.GetAccount(context.Background(), "acc-1")
	if got.CurrentBalance != 1204.33 {
		t.Errorf("balance = %v, want 1204.33", got.CurrentBalance)
	}
	if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(asOf) {
		t.Errorf("last_synced_at = %v, want %v", got.LastSyncedAt, asOf)
	}
}

func TestBalanceApplyDiscardsStaleSnapshot(t *testing.T) {
	st := memory.New()
	newer := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)
	st.PutAccount(&domain.Account{
		ID:             "acc-1",
		AccessToken:    "tok",
		CurrentBalance: 500,
		LastSyncedAt:   &newer,
	})

	stale := aggregator.BalanceSnapshot{Balance: 100, AsOf: newer.Add(-time.Hour)}
	agg := &aggregator.Fake{Balance: stale}

	bal := NewBalance(agg, st)
	account, _ := st.GetAccount(context.Background(), "acc-1")
	if err := bal.Apply(context.Background(), account); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, _ := st.GetAccount(context.Background(), "acc-1")
	if got.CurrentBalance != 500 {
		t.Errorf("balance = %v, want stale snapshot discarded", got.CurrentBalance)
	}
	if !got.LastSyncedAt.Equal(newer) {
		t.Errorf("last_synced_at = %v, want unchanged", got.LastSyncedAt)
	}
}
