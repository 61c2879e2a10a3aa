// Package handlers implements the webhook receiver endpoints. A webhook
// receipt is translated into a queued sync job; the orchestrator consumes the
// queue, so aggregator callbacks never run sync work inline.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/banksync/internal/api/middleware"
	"github.com/dvloznov/banksync/internal/jobs"
	"github.com/dvloznov/banksync/internal/store"
)

// WebhookHandler accepts aggregator webhooks and operator queries.
type WebhookHandler struct {
	store     store.Store
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewWebhookHandler creates the handler.
func NewWebhookHandler(s store.Store, publisher jobs.Publisher, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{store: s, publisher: publisher, log: log}
}

// Register attaches the routes.
func (h *WebhookHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/aggregator", h.ReceiveWebhook)
	mux.HandleFunc("GET /api/accounts/{accountID}/runs", h.ListRuns)
}

// ReceiveWebhook handles POST /webhooks/aggregator. The item_id is the
// aggregator's account identifier; unknown items are acknowledged with 200 so
// the aggregator does not retry them forever.
func (h *WebhookHandler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		EventType string `json:"event_type"`
		ItemID    string `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ItemID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "item_id is required")
		return
	}

	account, err := h.store.GetAccountByExternalID(ctx, req.ItemID)
	if errors.Is(err, store.ErrNotFound) {
		h.log.Warn().Str("item_id", req.ItemID).Msg("webhook for unknown item")
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to resolve webhook item")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to resolve item")
		return
	}

	job := &jobs.SyncAccountJob{
		AccountID: account.ID,
		Mode:      jobs.ModeIncremental,
	}
	if err := h.publisher.PublishSyncAccount(ctx, job); err != nil {
		h.log.Error().Err(err).Str("account_id", account.ID).Msg("Failed to enqueue sync job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue sync")
		return
	}

	h.log.Info().
		Str("event_type", req.EventType).
		Str("account_id", account.ID).
		Str("job_id", job.JobID).
		Msg("sync job enqueued from webhook")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"job_id": job.JobID,
	})
}

// ListRuns handles GET /api/accounts/{accountID}/runs?from=...&to=...
// Dates are RFC 3339; the default range is the last 30 days.
func (h *WebhookHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := r.PathValue("accountID")

	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid from timestamp")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid to timestamp")
			return
		}
		to = t
	}

	runs, err := h.store.ListSyncRuns(ctx, accountID, from, to)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to list sync runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list sync runs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}
