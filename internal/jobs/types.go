// Package jobs defines the durable task queue contract between the webhook
// receiver and the sync workers. Webhook receipts are translated into queued
// SyncAccountJobs; the orchestrator is a queue consumer, never an inline
// callback handler, so retries and backpressure live in the queue.
package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeSyncAccount represents an account transaction sync job.
	JobTypeSyncAccount JobType = "sync_account"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// SyncMode selects the sync start point.
type SyncMode string

const (
	// ModeInitial backfills a fixed lookback window; no cursor exists yet.
	ModeInitial SyncMode = "initial"
	// ModeIncremental resumes from the account's stored cursor.
	ModeIncremental SyncMode = "incremental"
)

// SyncAccountJob is a queued request to sync one account.
type SyncAccountJob struct {
	JobID     string   `json:"job_id"`
	AccountID string   `json:"account_id"`
	Mode      SyncMode `json:"mode"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *SyncAccountJob) GetID() string { return j.JobID }

// GetType implements the Job interface.
func (j *SyncAccountJob) GetType() JobType { return JobTypeSyncAccount }

// GetStatus implements the Job interface.
func (j *SyncAccountJob) GetStatus() JobStatus { return j.Status }

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Publisher interface {
	// PublishSyncAccount publishes an account sync job.
	PublishSyncAccount(ctx context.Context, job *SyncAccountJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs; handler is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job. It returns an error if the
// job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status,
// so execution can be tracked across service restarts.
type JobStore interface {
	SaveJob(ctx context.Context, job *SyncAccountJob) error
	GetJob(ctx context.Context, jobID string) (*SyncAccountJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*SyncAccountJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	AccountID string
	Status    JobStatus
	Limit     int
}
