package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/banksync/internal/jobs"
	"github.com/dvloznov/banksync/internal/syncer"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestQueueProcessesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var mu sync.Mutex
	var handled []string
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, job.GetID())
		return nil
	}

	ctx := context.Background()
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.SyncAccountJob{AccountID: "acc-1", Mode: jobs.ModeIncremental}
	if err := q.PublishSyncAccount(ctx, job); err != nil {
		t.Fatalf("PublishSyncAccount: %v", err)
	}
	if job.JobID == "" {
		t.Fatal("job ID not assigned on publish")
	}

	waitFor(t, 2*time.Second, func() bool {
		saved, err := store.GetJob(ctx, job.JobID)
		return err == nil && saved.Status == jobs.JobStatusCompleted
	})

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 || handled[0] != job.JobID {
		t.Errorf("handled = %v, want the published job", handled)
	}
}

func TestQueueLostLockRaceCompletesWithoutRetry(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	var calls int
	var mu sync.Mutex
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return syncer.ErrSyncInProgress
	}

	ctx := context.Background()
	if err := q.Start(ctx, handler); err != nil {
		t.Fatal(err)
	}

	job := &jobs.SyncAccountJob{AccountID: "acc-1", Mode: jobs.ModeIncremental}
	if err := q.PublishSyncAccount(ctx, job); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool {
		saved, err := store.GetJob(ctx, job.JobID)
		return err == nil && saved.Status == jobs.JobStatusCompleted
	})

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1 (lost lock race is not retried)", calls)
	}

	saved, _ := store.GetJob(ctx, job.JobID)
	if saved.Error != "" {
		t.Errorf("error = %q, want empty for an advisory skip", saved.Error)
	}
}

func TestQueueRetriesFailedJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	var mu sync.Mutex
	var calls int
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("transient failure")
		}
		return nil
	}

	ctx := context.Background()
	if err := q.Start(ctx, handler); err != nil {
		t.Fatal(err)
	}

	job := &jobs.SyncAccountJob{AccountID: "acc-1", Mode: jobs.ModeIncremental, MaxRetries: 2}
	if err := q.PublishSyncAccount(ctx, job); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		saved, err := store.GetJob(ctx, job.JobID)
		return err == nil && saved.Status == jobs.JobStatusCompleted
	})

	saved, _ := store.GetJob(ctx, job.JobID)
	if saved.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", saved.RetryCount)
	}
}

func TestQueuePublishAfterClose(t *testing.T) {
	q := NewQueue(1, 1, nil)
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	err := q.PublishSyncAccount(context.Background(), &jobs.SyncAccountJob{AccountID: "acc-1"})
	if err == nil {
		t.Error("expected publish to a closed queue to fail")
	}
}

func TestQueueStopWaitsForInFlight(t *testing.T) {
	store := NewStore()
	q := NewQueue(1, 1, store)

	release := make(chan struct{})
	started := make(chan struct{})
	handler := func(ctx context.Context, job jobs.Job) error {
		close(started)
		<-release
		return nil
	}

	ctx := context.Background()
	if err := q.Start(ctx, handler); err != nil {
		t.Fatal(err)
	}
	job := &jobs.SyncAccountJob{AccountID: "acc-1"}
	if err := q.PublishSyncAccount(ctx, job); err != nil {
		t.Fatal(err)
	}
	<-started

	done := make(chan error, 1)
	go func() { done <- q.Stop(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Stop returned while a job was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Stop: %v", err)
	}

	saved, err := store.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Status != jobs.JobStatusCompleted {
		t.Errorf("status = %q, want completed", saved.Status)
	}
}

func TestStoreListJobsFilter(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	seed := []*jobs.SyncAccountJob{
		{JobID: "j1", AccountID: "acc-1", Status: jobs.JobStatusCompleted},
		{JobID: "j2", AccountID: "acc-1", Status: jobs.JobStatusFailed},
		{JobID: "j3", AccountID: "acc-2", Status: jobs.JobStatusCompleted},
	}
	for _, j := range seed {
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	byAccount, err := store.ListJobs(ctx, jobs.JobFilter{AccountID: "acc-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAccount) != 2 {
		t.Errorf("by account = %d, want 2", len(byAccount))
	}

	byStatus, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(byStatus) != 1 || byStatus[0].JobID != "j2" {
		t.Errorf("by status = %+v, want j2", byStatus)
	}

	limited, err := store.ListJobs(ctx, jobs.JobFilter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limited = %d, want 1", len(limited))
	}

	if err := store.SaveJob(ctx, &jobs.SyncAccountJob{AccountID: "no-id"}); err == nil {
		t.Error("expected SaveJob without an ID to fail")
	}
}
