package domain

import "time"

// TransactionStatus tracks the lifecycle of a transaction in the delta stream.
// Removed transactions are retained with this status rather than deleted, so
// the audit history survives resynchronization.
type TransactionStatus string

const (
	StatusAdded    TransactionStatus = "added"
	StatusModified TransactionStatus = "modified"
	StatusRemoved  TransactionStatus = "removed"
)

// CategorySource records which stage of the categorization engine decided the
// category for a transaction.
type CategorySource string

const (
	SourceRule      CategorySource = "rule"
	SourceEmbedding CategorySource = "embedding"
	SourceUser      CategorySource = "user"
	SourceNone      CategorySource = "none"
)

// Uncategorized is the fallback category assigned when neither a rule nor an
// embedding similarity above threshold matches.
const Uncategorized = "Uncategorized"

// Transaction is one normalized bank transaction as stored locally.
// (AccountID, ExternalID) is unique: the reconciler only ever upserts on that
// key, so redelivered deltas can never produce a second row.
type Transaction struct {
	ID         string
	AccountID  string
	ExternalID string // aggregator's transaction ID, unique within the account

	Amount       float64
	PostedDate   time.Time
	MerchantName string
	Description  string

	Category           string
	CategoryConfidence float64
	CategorySource     CategorySource
	UserCategorized    bool

	// Embedding is the vector over the normalized merchant/description text,
	// kept for semantic search. Empty means no categorization attempt has
	// completed for the current text.
	Embedding []float32

	Status    TransactionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
