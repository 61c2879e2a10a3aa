package aggregator

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a scripted in-memory aggregator for tests. Pages are served in
// order; FailFetches injects transient failures before the next page is
// delivered, which exercises the orchestrator's retry path.
type Fake struct {
	mu sync.Mutex

	Pages    []*Page
	Balance  BalanceSnapshot
	Balances []BalanceSnapshot // optional per-call snapshots; overrides Balance

	// FailFetches makes the next N Fetch calls return a transient FetchError.
	FailFetches int
	// AuthFail makes every call return an AuthError.
	AuthFail bool

	FetchCalls   int
	BalanceCalls int

	next int
}

// Fetch implements Client.
func (f *Fake) Fetch(ctx context.Context, accessToken string, req FetchRequest) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.FetchCalls++
	if f.AuthFail {
		return nil, &AuthError{StatusCode: 401}
	}
	if f.FailFetches > 0 {
		f.FailFetches--
		return nil, &FetchError{StatusCode: 503}
	}
	if f.next >= len(f.Pages) {
		return &Page{HasMore: false}, nil
	}
	page := f.Pages[f.next]
	f.next++
	return page, nil
}

// GetBalance implements Client.
func (f *Fake) GetBalance(ctx context.Context, accessToken string) (*BalanceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.AuthFail {
		return nil, &AuthError{StatusCode: 401}
	}
	f.BalanceCalls++
	if len(f.Balances) > 0 {
		snap := f.Balances[0]
		if len(f.Balances) > 1 {
			f.Balances = f.Balances[1:]
		}
		return &snap, nil
	}
	snap := f.Balance
	return &snap, nil
}

// ExchangeToken implements Client.
func (f *Fake) ExchangeToken(ctx context.Context, publicToken string) (string, error) {
	return fmt.Sprintf("access-%s", publicToken), nil
}

var _ Client = (*Fake)(nil)
