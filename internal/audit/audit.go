// Package audit mirrors finalized sync runs into BigQuery for long-range
// operator queries. The Postgres sync_runs table stays authoritative; the
// mirror is append-only and export failures are logged, never fatal.
package audit

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/logger"
)

const syncRunsTable = "sync_runs"

// SyncRunRow is the BigQuery schema for one finalized run.
type SyncRunRow struct {
	RunID     string `bigquery:"run_id"`
	AccountID string `bigquery:"account_id"`

	StartedAt  time.Time              `bigquery:"started_ts"`
	FinishedAt bigquery.NullTimestamp `bigquery:"finished_ts"`

	CursorBefore bigquery.NullString `bigquery:"cursor_before"`
	CursorAfter  bigquery.NullString `bigquery:"cursor_after"`

	AddedCount    int64 `bigquery:"added_count"`
	ModifiedCount int64 `bigquery:"modified_count"`
	RemovedCount  int64 `bigquery:"removed_count"`
	PageCount     int64 `bigquery:"page_count"`

	Outcome      string `bigquery:"outcome"`
	ErrorMessage string `bigquery:"error_message"`
}

// Exporter writes finalized runs to a BigQuery dataset.
type Exporter struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewExporter creates an exporter bound to one project/dataset.
func NewExporter(ctx context.Context, project, dataset string) (*Exporter, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return &Exporter{client: client, project: project, dataset: dataset}, nil
}

// Close releases the underlying client.
func (e *Exporter) Close() error { return e.client.Close() }

// RecordRun implements syncer.RunRecorder. Failures are logged and swallowed:
// the run already lives in the primary store.
func (e *Exporter) RecordRun(ctx context.Context, run *domain.SyncRun) {
	row := toRow(run)
	table := e.client.DatasetInProject(e.project, e.dataset).Table(syncRunsTable)
	if err := table.Inserter().Put(ctx, []*SyncRunRow{row}); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("run_id", run.ID).
			Msg("failed to mirror sync run to BigQuery")
	}
}

// QueryRunsByRange returns mirrored runs for an account within [from, to].
func (e *Exporter) QueryRunsByRange(ctx context.Context, accountID string, from, to time.Time) ([]*SyncRunRow, error) {
	q := e.client.Query(fmt.Sprintf(`
		SELECT
			run_id, account_id, started_ts, finished_ts, cursor_before,
			cursor_after, added_count, modified_count, removed_count,
			page_count, outcome, error_message
		FROM %s.%s
		WHERE account_id = @account_id
		  AND started_ts >= @from_ts
		  AND started_ts <= @to_ts
		ORDER BY started_ts DESC
	`, e.dataset, syncRunsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "from_ts", Value: from},
		{Name: "to_ts", Value: to},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryRunsByRange: query read: %w", err)
	}

	var rows []*SyncRunRow
	for {
		var r SyncRunRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryRunsByRange: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}

func toRow(run *domain.SyncRun) *SyncRunRow {
	row := &SyncRunRow{
		RunID:         run.ID,
		AccountID:     run.AccountID,
		StartedAt:     run.StartedAt,
		AddedCount:    int64(run.Added),
		ModifiedCount: int64(run.Modified),
		RemovedCount:  int64(run.Removed),
		PageCount:     int64(run.Pages),
		Outcome:       string(run.Outcome),
		ErrorMessage:  run.ErrorMessage,
	}
	if run.FinishedAt != nil {
		row.FinishedAt = bigquery.NullTimestamp{Timestamp: *run.FinishedAt, Valid: true}
	}
	if run.CursorBefore != nil {
		row.CursorBefore = bigquery.NullString{StringVal: *run.CursorBefore, Valid: true}
	}
	if run.CursorAfter != nil {
		row.CursorAfter = bigquery.NullString{StringVal: *run.CursorAfter, Valid: true}
	}
	return row
}
