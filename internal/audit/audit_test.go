package audit

import (
	"testing"
	"time"

	"github.com/dvloznov/banksync/internal/domain"
)

func TestToRow(t *testing.T) {
	started := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	finished := started.Add(42 * time.Second)
	before := "cur-before"
	after := "cur-after"

	run := &domain.SyncRun{
		ID:           "run-1",
		AccountID:    "acc-1",
		StartedAt:    started,
		FinishedAt:   &finished,
		CursorBefore: &before,
		CursorAfter:  &after,
		Added:        3,
		Modified:     2,
		Removed:      1,
		Pages:        4,
		Outcome:      domain.RunSuccess,
		ErrorMessage: "",
	}

	row := toRow(run)
	if row.RunID != "run-1" || row.AccountID != "acc-1" {
		t.Errorf("identity = %q/%q, want run-1/acc-1", row.RunID, row.AccountID)
	}
	if !row.StartedAt.Equal(started) {
		t.Errorf("started = %v, want %v", row.StartedAt, started)
	}
	if !row.FinishedAt.Valid || !row.FinishedAt.Timestamp.Equal(finished) {
		t.Errorf("finished = %+v, want valid %v", row.FinishedAt, finished)
	}
	if !row.CursorBefore.Valid || row.CursorBefore.StringVal != before {
		t.Errorf("cursor before = %+v, want %q", row.CursorBefore, before)
	}
	if !row.CursorAfter.Valid || row.CursorAfter.StringVal != after {
		t.Errorf("cursor after = %+v, want %q", row.CursorAfter, after)
	}
	if row.AddedCount != 3 || row.ModifiedCount != 2 || row.RemovedCount != 1 || row.PageCount != 4 {
		t.Errorf("counts = %d/%d/%d/%d, want 3/2/1/4",
			row.AddedCount, row.ModifiedCount, row.RemovedCount, row.PageCount)
	}
	if row.Outcome != string(domain.RunSuccess) {
		t.Errorf("outcome = %q, want %q", row.Outcome, domain.RunSuccess)
	}
}

func TestToRowUnfinishedRun(t *testing.T) {
	run := &domain.SyncRun{
		ID:           "run-2",
		AccountID:    "acc-1",
		StartedAt:    time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		Outcome:      domain.RunFailed,
		ErrorMessage: "aggregator timeout",
	}

	row := toRow(run)
	if row.FinishedAt.Valid {
		t.Error("finished should stay null for an unfinished run")
	}
	if row.CursorBefore.Valid || row.CursorAfter.Valid {
		t.Error("cursors should stay null when unset")
	}
	if row.ErrorMessage != "aggregator timeout" {
		t.Errorf("error = %q, want aggregator timeout", row.ErrorMessage)
	}
}
