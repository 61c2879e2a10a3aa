// Package reconcile merges aggregator delta pages into stored state. It is
// the only writer of transaction rows: every write is an upsert keyed by
// (account_id, external_transaction_id), redelivered adds collapse into
// modifies, user-entered categories survive merges, and removals are status
// flips rather than deletions.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/banksync/internal/aggregator"
	"github.com/dvloznov/banksync/internal/categorize"
	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/events"
	"github.com/dvloznov/banksync/internal/logger"
	"github.com/dvloznov/banksync/internal/store"
)

// Counts summarizes one applied page. Degraded is set when categorization
// fell back to rule-only because the embedding generator was unavailable.
type Counts struct {
	Added    int
	Modified int
	Removed  int
	Degraded bool
}

// Reconciler applies delta pages for one account at a time. The caller holds
// the account lock, so no two pages for the same account interleave.
type Reconciler struct {
	store  store.Store
	engine *categorize.Engine
	sink   events.Sink
}

// New creates a reconciler.
func New(s store.Store, engine *categorize.Engine, sink events.Sink) *Reconciler {
	return &Reconciler{store: s, engine: engine, sink: sink}
}

// pending is one transaction write awaiting a categorization result.
// catIndex is -1 when the existing category carries over unchanged.
type pending struct {
	tx       *domain.Transaction
	isNew    bool
	catIndex int
}

// ApplyPage merges one page in the fixed order added, modified, removed.
// Categorization for the whole page goes out as one batch.
func (r *Reconciler) ApplyPage(ctx context.Context, accountID string, page *aggregator.Page) (Counts, error) {
	var (
		counts Counts
		writes []pending
		inputs []categorize.Input
		queued = make(map[string]int)
	)

	queue := func(p pending, delta aggregator.Delta, needsCategory bool) {
		if needsCategory {
			p.catIndex = len(inputs)
			inputs = append(inputs, categorize.Input{
				Description:  delta.Description,
				MerchantName: delta.MerchantName,
				Amount:       delta.Amount,
			})
		} else {
			p.catIndex = -1
		}
		queued[delta.ExternalID] = len(writes)
		writes = append(writes, p)
	}

	// merge folds a later in-page delta for an already-queued key into that
	// write, re-pointing any pending categorization at the newest text.
	merge := func(w *pending, delta aggregator.Delta) {
		material := !textEqual(w.tx.MerchantName, delta.MerchantName) ||
			!textEqual(w.tx.Description, delta.Description)
		w.tx.Amount = delta.Amount
		w.tx.PostedDate = delta.PostedDate
		w.tx.MerchantName = delta.MerchantName
		w.tx.Description = delta.Description
		in := categorize.Input{
			Description:  delta.Description,
			MerchantName: delta.MerchantName,
			Amount:       delta.Amount,
		}
		switch {
		case w.catIndex >= 0:
			inputs[w.catIndex] = in
		case material && !w.tx.UserCategorized:
			w.catIndex = len(inputs)
			inputs = append(inputs, in)
		}
	}

	// Added, then modified. A delta key seen twice within the page merges into
	// its first queued write, so a single row produces a single write and event.
	for _, delta := range page.Added {
		if _, ok := queued[delta.ExternalID]; ok {
			continue
		}
		p, err := r.prepare(ctx, accountID, delta, true)
		if err != nil {
			return counts, err
		}
		queue(p.pending, delta, p.needsCategory)
	}
	for _, delta := range page.Modified {
		if i, ok := queued[delta.ExternalID]; ok {
			merge(&writes[i], delta)
			continue
		}
		p, err := r.prepare(ctx, accountID, delta, false)
		if err != nil {
			return counts, err
		}
		queue(p.pending, delta, p.needsCategory)
	}

	results, catErr := r.engine.CategorizeBatch(ctx, inputs)
	if catErr != nil {
		// Rule-only degradation: results are still usable, the run outcome
		// just becomes degraded instead of failing the sync.
		counts.Degraded = true
		log := logger.FromContext(ctx)
		log.Warn().Err(catErr).
			Str("account_id", accountID).
			Msg("categorization degraded to rule-only")
	}

	for _, w := range writes {
		if w.catIndex >= 0 {
			res := results[w.catIndex]
			w.tx.Category = res.Category
			w.tx.CategoryConfidence = res.Confidence
			w.tx.CategorySource = res.Source
			w.tx.Embedding = res.Embedding
		}
		if err := r.upsertWithRetry(ctx, w.tx); err != nil {
			return counts, fmt.Errorf("upsert %s: %w", w.tx.ExternalID, err)
		}
		if w.isNew {
			counts.Added++
			r.sink.Emit(ctx, events.TransactionAdded, eventPayload(w.tx))
		} else {
			counts.Modified++
			r.sink.Emit(ctx, events.TransactionUpdated, eventPayload(w.tx))
		}
	}

	// Removed last, so a key listed as both modified and removed within the
	// page ends up removed.
	for _, externalID := range page.Removed {
		err := r.store.MarkRemoved(ctx, accountID, externalID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return counts, fmt.Errorf("mark removed %s: %w", externalID, err)
		}
		counts.Removed++
	}

	return counts, nil
}

type prepared struct {
	pending
	needsCategory bool
}

// prepare decides what the write for one delta looks like, given the stored
// row (if any). fromAdded only affects which counter the write lands in when
// the row is genuinely new.
func (r *Reconciler) prepare(ctx context.Context, accountID string, delta aggregator.Delta, fromAdded bool) (prepared, error) {
	existing, err := r.store.GetTransaction(ctx, accountID, delta.ExternalID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return prepared{}, fmt.Errorf("get %s: %w", delta.ExternalID, err)
	}

	if existing == nil {
		// New row. A modify for an unknown key (out-of-order delivery) is
		// inserted rather than dropped.
		tx := &domain.Transaction{
			AccountID:    accountID,
			ExternalID:   delta.ExternalID,
			Amount:       delta.Amount,
			PostedDate:   delta.PostedDate,
			MerchantName: delta.MerchantName,
			Description:  delta.Description,
			Status:       domain.StatusAdded,
		}
		return prepared{pending: pending{tx: tx, isNew: true}, needsCategory: true}, nil
	}

	// Redelivered add or genuine modify: merge non-category fields.
	material := materialChange(existing, delta)
	tx := existing
	tx.Amount = delta.Amount
	tx.PostedDate = delta.PostedDate
	tx.MerchantName = delta.MerchantName
	tx.Description = delta.Description
	if tx.Status != domain.StatusRemoved {
		tx.Status = domain.StatusModified
	}

	// User-entered categories are never overwritten, and a user-categorized
	// row is never recategorized even on material text changes.
	needsCategory := material && !tx.UserCategorized
	return prepared{pending: pending{tx: tx, isNew: false}, needsCategory: needsCategory}, nil
}

// upsertWithRetry retries a conflicting write once with a fresh read, keeping
// the incoming non-category fields on top of whatever won the race.
func (r *Reconciler) upsertWithRetry(ctx context.Context, tx *domain.Transaction) error {
	err := r.store.UpsertTransaction(ctx, tx)
	if !errors.Is(err, store.ErrConflict) {
		return err
	}
	fresh, readErr := r.store.GetTransaction(ctx, tx.AccountID, tx.ExternalID)
	if readErr != nil && !errors.Is(readErr, store.ErrNotFound) {
		return readErr
	}
	if fresh != nil {
		tx.ID = fresh.ID
		if fresh.UserCategorized {
			tx.Category = fresh.Category
			tx.CategoryConfidence = fresh.CategoryConfidence
			tx.CategorySource = fresh.CategorySource
			tx.UserCategorized = true
		}
	}
	return r.store.UpsertTransaction(ctx, tx)
}

// materialChange reports whether the merchant name or description changed
// beyond case and whitespace, which invalidates the stored categorization.
func materialChange(existing *domain.Transaction, delta aggregator.Delta) bool {
	return !textEqual(existing.MerchantName, delta.MerchantName) ||
		!textEqual(existing.Description, delta.Description)
}

func textEqual(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}

func eventPayload(tx *domain.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"account_id":     tx.AccountID,
		"transaction_id": tx.ExternalID,
		"amount":         tx.Amount,
		"category":       tx.Category,
	}
}
