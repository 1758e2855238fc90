package repository

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
)

// JobExecutionFilter selects records. Empty fields match everything.
type JobExecutionFilter struct {
	WorkflowName  string
	CycleNumber   int // 0 matches every cycle
	StepID        string
	Statuses      []jobexec.Status
	StartedBefore *time.Time
}

// JobExecutionRepository is the durable store of job execution records
type JobExecutionRepository interface {
	// FindOne returns the latest attempt for the composite key, or nil if none exists
	FindOne(ctx context.Context, key jobexec.Key) (*jobexec.Record, error)

	// FindMany returns every record matching the filter, ordered by step and attempt
	FindMany(ctx context.Context, filter JobExecutionFilter) ([]*jobexec.Record, error)

	// Create persists a new record
	Create(ctx context.Context, rec *jobexec.Record) error

	// UpdateByID applies a partial update and returns the updated record, or nil if not found
	UpdateByID(ctx context.Context, id string, update jobexec.RecordUpdate) (*jobexec.Record, error)

	// AppendLog appends one entry to the record's log list, dropping the oldest beyond maxEntries
	AppendLog(ctx context.Context, id string, entry jobexec.LogEntry, maxEntries int) error
}
