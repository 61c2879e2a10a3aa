package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/jobs"
	"github.com/dvloznov/banksync/internal/logger"
	"github.com/dvloznov/banksync/internal/store/memory"
)

type capturePublisher struct {
	mu   sync.Mutex
	jobs []*jobs.SyncAccountJob
	err  error
}

func (p *capturePublisher) PublishSyncAccount(ctx context.Context, job *jobs.SyncAccountJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	job.JobID = "job-1"
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func newTestMux(t *testing.T, st *memory.Store, pub jobs.Publisher) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewWebhookHandler(st, pub, logger.NewWithWriter(testWriter{t})).Register(mux)
	return mux
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func TestReceiveWebhookEnqueuesSync(t *testing.T) {
	st := memory.New()
	st.PutAccount(&domain.Account{ID: "acc-1", ExternalAccountID: "item-9"})
	pub := &capturePublisher{}
	mux := newTestMux(t, st, pub)

	body := `{"event_type":"TRANSACTIONS_SYNC_UPDATES_AVAILABLE","item_id":"item-9"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/aggregator", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body: %s)", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "queued" || resp["job_id"] == "" {
		t.Errorf("response = %v", resp)
	}

	if len(pub.jobs) != 1 {
		t.Fatalf("published jobs = %d, want 1", len(pub.jobs))
	}
	job := pub.jobs[0]
	if job.AccountID != "acc-1" || job.Mode != jobs.ModeIncremental {
		t.Errorf("job = %+v, want incremental sync for acc-1", job)
	}
}

func TestReceiveWebhookUnknownItemAcknowledged(t *testing.T) {
	pub := &capturePublisher{}
	mux := newTestMux(t, memory.New(), pub)

	body := `{"event_type":"TRANSACTIONS_SYNC_UPDATES_AVAILABLE","item_id":"nope"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/aggregator", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	// 200, not 4xx: the aggregator must not retry unknown items forever.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(pub.jobs) != 0 {
		t.Errorf("published jobs = %d, want none", len(pub.jobs))
	}
}

func TestReceiveWebhookBadRequests(t *testing.T) {
	mux := newTestMux(t, memory.New(), &capturePublisher{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"missing item_id", `{"event_type":"X"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/aggregator", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	st := memory.New()
	started := time.Now().Add(-time.Hour)
	finished := started.Add(time.Minute)
	_ = st.CreateSyncRun(context.Background(), &domain.SyncRun{
		ID:         "run-1",
		AccountID:  "acc-1",
		StartedAt:  started,
		FinishedAt: &finished,
		Outcome:    domain.RunSuccess,
		Added:      3,
	})
	mux := newTestMux(t, st, &capturePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/acc-1/runs", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}
}

func TestListRunsBadTimestamps(t *testing.T) {
	mux := newTestMux(t, memory.New(), &capturePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/acc-1/runs?from=yesterday", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
