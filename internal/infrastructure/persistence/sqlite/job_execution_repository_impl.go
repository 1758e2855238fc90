package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/repository"
)

const jobExecutionColumns = `id, workflow_name, cycle_number, step_id, attempt, step_name, status,
	scheduled_at, started_at, ended_at, progress, result, error, logs, metadata, updated_at`

// JobExecutionRepositoryImpl implements repository.JobExecutionRepository with SQLite
type JobExecutionRepositoryImpl struct {
	db  *sql.DB
	now func() time.Time
}

// NewJobExecutionRepository creates a new SQLite-based job execution repository
func NewJobExecutionRepository(db *sql.DB) *JobExecutionRepositoryImpl {
	return &JobExecutionRepositoryImpl{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// getDB returns the appropriate database executor from context
func (r *JobExecutionRepositoryImpl) getDB(ctx context.Context) dbExecutor {
	return executorFor(ctx, r.db)
}

// FindOne returns the latest attempt for key
func (r *JobExecutionRepositoryImpl) FindOne(ctx context.Context, key jobexec.Key) (*jobexec.Record, error) {
	query := `SELECT ` + jobExecutionColumns + ` FROM job_executions
		WHERE workflow_name = ? AND cycle_number = ? AND step_id = ?
		ORDER BY attempt DESC LIMIT 1`

	rec, err := scanJobExecution(r.getDB(ctx).QueryRowContext(ctx, query, key.WorkflowName, key.CycleNumber, key.StepID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job execution %s: %w", key, err)
	}
	return rec, nil
}

// FindMany returns the records matching filter ordered by cycle, step and attempt
func (r *JobExecutionRepositoryImpl) FindMany(ctx context.Context, filter repository.JobExecutionFilter) ([]*jobexec.Record, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.WorkflowName != "" {
		where = append(where, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}
	if filter.CycleNumber > 0 {
		where = append(where, "cycle_number = ?")
		args = append(args, filter.CycleNumber)
	}
	if filter.StepID != "" {
		where = append(where, "step_id = ?")
		args = append(args, filter.StepID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.StartedBefore != nil {
		where = append(where, "started_at IS NOT NULL AND started_at < ?")
		args = append(args, formatTime(*filter.StartedBefore))
	}

	query := `SELECT ` + jobExecutionColumns + ` FROM job_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY workflow_name, cycle_number, step_id, attempt"

	rows, err := r.getDB(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query job executions: %w", err)
	}
	defer rows.Close()

	var records []*jobexec.Record
	for rows.Next() {
		rec, err := scanJobExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job execution: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job executions: %w", err)
	}
	return records, nil
}

// Create inserts a new record
func (r *JobExecutionRepositoryImpl) Create(ctx context.Context, rec *jobexec.Record) error {
	if err := rec.Key.Validate(); err != nil {
		return err
	}
	if !rec.Status.IsValid() {
		return fmt.Errorf("create job execution %s: invalid status %q", rec.Key, rec.Status)
	}

	logs := rec.Logs
	if logs == nil {
		logs = []jobexec.LogEntry{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now()
	}

	query := `INSERT INTO job_executions (` + jobExecutionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.getDB(ctx).ExecContext(ctx, query,
		rec.ID,
		rec.Key.WorkflowName,
		rec.Key.CycleNumber,
		rec.Key.StepID,
		rec.Attempt,
		rec.StepName,
		string(rec.Status),
		formatTime(rec.ScheduledAt),
		formatNullTime(rec.StartedAt),
		formatNullTime(rec.EndedAt),
		jobexec.ClampProgress(rec.Progress),
		nullRaw(rec.Result),
		rec.Error,
		string(logsJSON),
		string(metadataJSON),
		formatTime(updatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s attempt %d", jobexec.ErrDuplicateRecord, rec.Key, rec.Attempt)
		}
		return fmt.Errorf("insert job execution: %w", err)
	}
	return nil
}

// UpdateByID sets only the fields named by update and returns the row as written
func (r *JobExecutionRepositoryImpl) UpdateByID(ctx context.Context, id string, update jobexec.RecordUpdate) (*jobexec.Record, error) {
	var set setClause
	if update.ClearOutcome {
		if update.EndedAt == nil {
			set.addExpr("ended_at = NULL")
		}
		if update.Error == nil {
			set.addExpr("error = ''")
		}
		if update.Result == nil {
			set.addExpr("result = NULL")
		}
	}
	if update.Status != nil {
		if !update.Status.IsValid() {
			return nil, fmt.Errorf("update job execution %s: invalid status %q", id, *update.Status)
		}
		set.add("status", string(*update.Status))
	}
	if update.StartedAt != nil {
		set.add("started_at", formatTime(*update.StartedAt))
	}
	if update.EndedAt != nil {
		set.add("ended_at", formatTime(*update.EndedAt))
	}
	if update.Progress != nil {
		set.add("progress", jobexec.ClampProgress(*update.Progress))
	}
	if update.Result != nil {
		set.add("result", string(update.Result))
	}
	if update.Error != nil {
		set.add("error", *update.Error)
	}
	if update.SkipReason != nil {
		set.addExpr("metadata = json_set(metadata, '$.skipReason', ?)", *update.SkipReason)
	}
	set.add("updated_at", formatTime(r.now()))

	query := `UPDATE job_executions SET ` + set.String() + ` WHERE id = ? RETURNING ` + jobExecutionColumns
	args := append(set.args, id)

	rec, err := scanJobExecution(r.getDB(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update job execution %s: %w", id, err)
	}
	return rec, nil
}

// AppendLog appends entry to the log list in a single statement, dropping the
// oldest entry once maxEntries is reached.
func (r *JobExecutionRepositoryImpl) AppendLog(ctx context.Context, id string, entry jobexec.LogEntry, maxEntries int) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	var (
		query string
		args  []interface{}
	)
	if maxEntries > 0 {
		query = `UPDATE job_executions SET
			logs = CASE
				WHEN json_array_length(logs) >= ? THEN json_insert(json_remove(logs, '$[0]'), '$[#]', json(?))
				ELSE json_insert(logs, '$[#]', json(?))
			END,
			updated_at = ?
			WHERE id = ?`
		args = []interface{}{maxEntries, string(entryJSON), string(entryJSON), formatTime(r.now()), id}
	} else {
		query = `UPDATE job_executions SET logs = json_insert(logs, '$[#]', json(?)), updated_at = ? WHERE id = ?`
		args = []interface{}{string(entryJSON), formatTime(r.now()), id}
	}

	result, err := r.getDB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("append log to %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("append log to %s: %w", id, jobexec.ErrRecordNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJobExecution(row rowScanner) (*jobexec.Record, error) {
	var (
		rec                   jobexec.Record
		status                string
		scheduledAt           string
		startedAt, endedAt    sql.NullString
		result                sql.NullString
		logsJSON, metadataRaw string
		updatedAt             string
	)
	err := row.Scan(
		&rec.ID,
		&rec.Key.WorkflowName,
		&rec.Key.CycleNumber,
		&rec.Key.StepID,
		&rec.Attempt,
		&rec.StepName,
		&status,
		&scheduledAt,
		&startedAt,
		&endedAt,
		&rec.Progress,
		&result,
		&rec.Error,
		&logsJSON,
		&metadataRaw,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = jobexec.Status(status)
	if rec.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, err
	}
	if rec.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if rec.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		rec.Result = json.RawMessage(result.String)
	}

	rec.Logs = []jobexec.LogEntry{}
	if logsJSON != "" {
		if err := json.Unmarshal([]byte(logsJSON), &rec.Logs); err != nil {
			return nil, fmt.Errorf("unmarshal logs: %w", err)
		}
	}
	if metadataRaw != "" {
		if err := json.Unmarshal([]byte(metadataRaw), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &rec, nil
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
