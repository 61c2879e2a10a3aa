// Package aggregator defines the capability interface for the external
// banking-data aggregator and its production/sandbox/test implementations.
// The wire protocol is the aggregator's own; callers only see delta pages,
// balance snapshots and token exchange.
package aggregator

import (
	"context"
	"time"
)

// Delta is one transaction as delivered by the aggregator. Added and modified
// deltas share this shape; removals arrive as bare external IDs.
type Delta struct {
	ExternalID   string    `json:"transaction_id"`
	Amount       float64   `json:"amount"`
	PostedDate   time.Time `json:"date"`
	MerchantName string    `json:"merchant_name"`
	Description  string    `json:"description"`
}

// Page is one page of the aggregator's delta stream.
type Page struct {
	Added    []Delta  `json:"added"`
	Modified []Delta  `json:"modified"`
	Removed  []string `json:"removed"`

	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

// BalanceSnapshot is the aggregator's authoritative balance at a point in time.
type BalanceSnapshot struct {
	Balance float64   `json:"balance"`
	AsOf    time.Time `json:"as_of"`
}

// Window is a date range used for the initial sync, when no cursor exists yet.
type Window struct {
	Start time.Time
	End   time.Time
}

// FetchRequest selects the position in the delta stream: a cursor for
// incremental syncs, or a date window for the initial sync. Exactly one of
// Cursor/Window is meaningful; an empty cursor means "use the window".
type FetchRequest struct {
	Cursor string
	Window Window
}

// Client is the capability interface for the aggregator. Implementations:
// HTTPClient (production and sandbox, differing only in base URL) and Fake
// (scripted pages for tests).
type Client interface {
	// Fetch returns the next page of transaction deltas.
	Fetch(ctx context.Context, accessToken string, req FetchRequest) (*Page, error)

	// GetBalance returns the current authoritative account balance.
	GetBalance(ctx context.Context, accessToken string) (*BalanceSnapshot, error)

	// ExchangeToken trades a public link token for a long-lived access token.
	ExchangeToken(ctx context.Context, publicToken string) (string, error)
}
