package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/YoshitsuguKoike/quotacycle/internal/app"
	"github.com/YoshitsuguKoike/quotacycle/internal/application/port/output"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/repository"
)

const (
	skipReasonWorkflowConfig = "workflow configuration"
	staleRestartMessage      = "stale: process restarted"
)

// ErrNoJobRegistered is returned when a step has no job function bound to it
var ErrNoJobRegistered = errors.New("no job registered for step")

// StepTimeoutError reports a job function that did not finish within the step timeout
type StepTimeoutError struct {
	StepID  string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %s timed out after %v", e.StepID, e.Timeout)
}

// QuotaSignalClassifier separates provider quota exhaustion from ordinary failures
type QuotaSignalClassifier interface {
	IsQuotaSignal(err error) bool
}

// CoordinatorConfig holds configuration for step execution
type CoordinatorConfig struct {
	StepTimeout    time.Duration // Per-step timeout; 0 disables it
	StaleThreshold time.Duration // In-flight records older than this are reclaimed
	MaxLogEntries  int           // Cap of the persisted log list
}

// DefaultCoordinatorConfig returns default configuration
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		StepTimeout:    30 * time.Minute,
		StaleThreshold: 5 * time.Minute,
		MaxLogEntries:  jobexec.MaxLogEntries,
	}
}

// CycleContext identifies the cycle a step runs in
type CycleContext struct {
	WorkflowName string
	CycleNumber  int
	StepIndex    int

	// OnProgress is called after every persisted progress report
	OnProgress func()
}

// StepResult is the classified result of one RunStep call
type StepResult struct {
	Outcome jobexec.Outcome
	Record  *jobexec.Record
	Err     error
}

// JobExecutionCoordinator runs one workflow step and owns its record lifecycle
type JobExecutionCoordinator struct {
	repo       repository.JobExecutionRepository
	jobs       output.JobResolver
	classifier QuotaSignalClassifier
	txm        output.TransactionManager
	logger     app.Logger
	config     CoordinatorConfig
	now        func() time.Time
}

// NewJobExecutionCoordinator creates a new coordinator
func NewJobExecutionCoordinator(
	repo repository.JobExecutionRepository,
	jobs output.JobResolver,
	classifier QuotaSignalClassifier,
	txm output.TransactionManager,
	logger app.Logger,
	config CoordinatorConfig,
) *JobExecutionCoordinator {
	if logger == nil {
		logger = app.NopLogger()
	}
	if config.MaxLogEntries <= 0 {
		config.MaxLogEntries = jobexec.MaxLogEntries
	}
	return &JobExecutionCoordinator{
		repo:       repo,
		jobs:       jobs,
		classifier: classifier,
		txm:        txm,
		logger:     logger,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunStep executes step within the cycle described by cc
func (c *JobExecutionCoordinator) RunStep(ctx context.Context, step cycle.Step, cc CycleContext) StepResult {
	key := jobexec.Key{WorkflowName: cc.WorkflowName, CycleNumber: cc.CycleNumber, StepID: step.StepID}

	if step.Skipped {
		return c.skip(ctx, step, key, cc)
	}

	existing, err := c.repo.FindOne(ctx, key)
	if err != nil {
		c.logger.Warn("[%s] lookup of execution record failed, starting a new attempt: %v", key, err)
		existing = nil
	}

	rec, alreadyDone := c.prepare(ctx, step, key, cc, existing)
	if alreadyDone {
		c.logger.Debug("[%s] already completed in this cycle", key)
		return StepResult{Outcome: jobexec.OutcomeAlreadyDone, Record: rec}
	}

	return c.execute(ctx, step, cc, rec)
}

// skip records the step as skipped. An existing skipped record is left untouched.
func (c *JobExecutionCoordinator) skip(ctx context.Context, step cycle.Step, key jobexec.Key, cc CycleContext) StepResult {
	existing, err := c.repo.FindOne(ctx, key)
	if err != nil {
		c.logger.Warn("[%s] lookup of execution record failed: %v", key, err)
	}

	switch {
	case existing != nil && existing.Status == jobexec.StatusSkipped:
		return StepResult{Outcome: jobexec.OutcomeSkipped, Record: existing}

	case existing != nil:
		u := jobexec.Finish(jobexec.StatusSkipped, c.now(), "")
		u.SkipReason = cycle.Ptr(skipReasonWorkflowConfig)
		rec := c.update(ctx, existing, u)
		c.logger.Info("[%s] skipped (%s)", key, skipReasonWorkflowConfig)
		return StepResult{Outcome: jobexec.OutcomeSkipped, Record: rec}
	}

	now := c.now()
	rec, err := c.newRecord(step, key, cc, 1, now)
	if err != nil {
		c.logger.Warn("[%s] cannot build skipped record: %v", key, err)
		return StepResult{Outcome: jobexec.OutcomeSkipped}
	}
	rec.Status = jobexec.StatusSkipped
	rec.EndedAt = &now
	rec.Metadata.SkipReason = skipReasonWorkflowConfig
	if err := c.repo.Create(ctx, rec); err != nil {
		c.logger.Warn("[%s] persisting skipped record failed: %v", key, err)
	}
	c.logger.Info("[%s] skipped (%s)", key, skipReasonWorkflowConfig)
	return StepResult{Outcome: jobexec.OutcomeSkipped, Record: rec}
}

// prepare resolves the existing record into one that is running for this attempt
func (c *JobExecutionCoordinator) prepare(
	ctx context.Context,
	step cycle.Step,
	key jobexec.Key,
	cc CycleContext,
	existing *jobexec.Record,
) (*jobexec.Record, bool) {
	now := c.now()

	switch {
	case existing == nil:
		return c.startFresh(ctx, step, key, cc, 1), false

	case existing.Status == jobexec.StatusCompleted:
		return existing, true

	case existing.IsStale(now, c.config.StaleThreshold):
		c.logger.Warn("[%s] attempt %d stale since %s, starting a new attempt",
			key, existing.Attempt, existing.StartedAt.Format(time.RFC3339))
		c.update(ctx, existing, jobexec.Finish(jobexec.StatusFailed, now, staleRestartMessage))
		return c.startFresh(ctx, step, key, cc, existing.Attempt+1), false

	case existing.Status == jobexec.StatusRunning:
		c.logger.Warn("[%s] reusing in-flight attempt %d", key, existing.Attempt)
		return existing, false

	case existing.Status.IsRetryable() || existing.Status == jobexec.StatusRetrying:
		// Progress is preserved across the retry
		retrying := jobexec.StatusRetrying
		rec := c.update(ctx, existing, jobexec.RecordUpdate{
			Status:       &retrying,
			StartedAt:    &now,
			ClearOutcome: true,
		})
		c.logger.Info("[%s] retrying attempt %d from %.0f%%", key, rec.Attempt, rec.Progress*100)
		return c.update(ctx, rec, jobexec.SetStatus(jobexec.StatusRunning)), false

	default:
		running := jobexec.StatusRunning
		zero := 0.0
		return c.update(ctx, existing, jobexec.RecordUpdate{
			Status:       &running,
			StartedAt:    &now,
			Progress:     &zero,
			ClearOutcome: true,
		}), false
	}
}

// startFresh creates a new scheduled attempt and moves it to running
func (c *JobExecutionCoordinator) startFresh(
	ctx context.Context,
	step cycle.Step,
	key jobexec.Key,
	cc CycleContext,
	attempt int,
) *jobexec.Record {
	now := c.now()
	rec, err := c.newRecord(step, key, cc, attempt, now)
	if err != nil {
		c.logger.Warn("[%s] cannot build execution record: %v", key, err)
		return nil
	}
	if err := c.repo.Create(ctx, rec); err != nil {
		c.logger.Warn("[%s] persisting execution record failed: %v", key, err)
	}

	running := jobexec.StatusRunning
	zero := 0.0
	return c.update(ctx, rec, jobexec.RecordUpdate{
		Status:    &running,
		StartedAt: &now,
		Progress:  &zero,
	})
}

func (c *JobExecutionCoordinator) newRecord(
	step cycle.Step,
	key jobexec.Key,
	cc CycleContext,
	attempt int,
	now time.Time,
) (*jobexec.Record, error) {
	rec, err := jobexec.NewRecord(key, step.DisplayName(), attempt, now)
	if err != nil {
		return nil, err
	}
	rec.Metadata.StepIndex = cc.StepIndex
	rec.Metadata.ParallelGroup = step.ParallelGroup
	return rec, nil
}

// execute runs the job function and classifies its outcome
func (c *JobExecutionCoordinator) execute(ctx context.Context, step cycle.Step, cc CycleContext, rec *jobexec.Record) StepResult {
	key := jobexec.Key{WorkflowName: cc.WorkflowName, CycleNumber: cc.CycleNumber, StepID: step.StepID}
	// Bookkeeping outlives a cancelled caller so final statuses still land
	bctx := context.WithoutCancel(ctx)

	jc := newStepJobContext(bctx, c, key, rec, cc.OnProgress)
	defer jc.close()

	job, ok := c.jobs.Resolve(step.StepID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNoJobRegistered, step.StepID)
		return c.fail(bctx, jc, rec, err)
	}

	jc.AppendLog(fmt.Sprintf("start %s (cycle %d)", step.DisplayName(), cc.CycleNumber), jobexec.LogLevelInfo)
	started := c.now()

	result, err := c.invoke(ctx, step, job, jc)
	if err == nil {
		payload, mErr := marshalResult(result)
		if mErr != nil {
			c.logger.Warn("[%s] result is not serializable, dropping it: %v", key, mErr)
		}
		completed := jobexec.StatusCompleted
		ended := c.now()
		full := 1.0
		rec = c.update(bctx, rec, jobexec.RecordUpdate{
			Status:   &completed,
			EndedAt:  &ended,
			Progress: &full,
			Result:   payload,
		})
		jc.AppendLog(fmt.Sprintf("complete %s in %v", step.DisplayName(), ended.Sub(started).Round(time.Millisecond)), jobexec.LogLevelInfo)
		return StepResult{Outcome: jobexec.OutcomeSuccess, Record: rec}
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		c.logger.Info("[%s] interrupted: %v", key, err)
		return StepResult{Outcome: jobexec.OutcomeInterrupted, Record: rec, Err: err}
	}

	if c.classifier != nil && c.classifier.IsQuotaSignal(err) {
		// Not marked failed: the cycle pauses instead
		jc.AppendLog(fmt.Sprintf("quota signal: %v", err), jobexec.LogLevelWarn)
		return StepResult{Outcome: jobexec.OutcomeQuotaPause, Record: rec, Err: err}
	}

	return c.fail(bctx, jc, rec, err)
}

func (c *JobExecutionCoordinator) fail(ctx context.Context, jc *stepJobContext, rec *jobexec.Record, err error) StepResult {
	rec = c.update(ctx, rec, jobexec.Finish(jobexec.StatusFailed, c.now(), err.Error()))
	jc.AppendLog(fmt.Sprintf("failed: %v", err), jobexec.LogLevelError)
	return StepResult{Outcome: jobexec.OutcomeFailure, Record: rec, Err: err}
}

// invoke races the job function against the step timeout and ctx
func (c *JobExecutionCoordinator) invoke(ctx context.Context, step cycle.Step, job output.JobFunc, jc output.JobContext) (any, error) {
	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type jobOutput struct {
		result any
		err    error
	}
	done := make(chan jobOutput, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- jobOutput{err: fmt.Errorf("job %s panicked: %v, StackTrace: %s", step.StepID, r, debug.Stack())}
			}
		}()
		result, err := job(stepCtx, jc)
		done <- jobOutput{result: result, err: err}
	}()

	var timeout <-chan time.Time
	if c.config.StepTimeout > 0 {
		timer := time.NewTimer(c.config.StepTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case out := <-done:
		return out.result, out.err
	case <-timeout:
		return nil, &StepTimeoutError{StepID: step.StepID, Timeout: c.config.StepTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FailRecord marks an in-flight record failed with err
func (c *JobExecutionCoordinator) FailRecord(ctx context.Context, rec *jobexec.Record, err error) *jobexec.Record {
	return c.update(ctx, rec, jobexec.Finish(jobexec.StatusFailed, c.now(), err.Error()))
}

// CancelInFlight marks every running or retrying record of the cycle as cancelled
func (c *JobExecutionCoordinator) CancelInFlight(ctx context.Context, workflowName string, cycleNumber int) int {
	records, err := c.repo.FindMany(ctx, repository.JobExecutionFilter{
		WorkflowName: workflowName,
		CycleNumber:  cycleNumber,
		Statuses:     []jobexec.Status{jobexec.StatusRunning, jobexec.StatusRetrying},
	})
	if err != nil {
		c.logger.Warn("[%s#%d] listing in-flight executions failed: %v", workflowName, cycleNumber, err)
		return 0
	}

	cancelled := 0
	for _, rec := range records {
		updated := c.update(ctx, rec, jobexec.Finish(jobexec.StatusCancelled, c.now(), ""))
		if updated != nil && updated.Status == jobexec.StatusCancelled {
			cancelled++
		}
	}
	return cancelled
}

// ReclaimStale force-fails a stale in-flight record and schedules a fresh attempt
// with no progress carried over. Both writes share one transaction when a
// transaction manager is configured. It returns the new attempt.
func (c *JobExecutionCoordinator) ReclaimStale(ctx context.Context, rec *jobexec.Record) (*jobexec.Record, error) {
	now := c.now()
	if !rec.IsStale(now, c.config.StaleThreshold) {
		return nil, fmt.Errorf("record %s is not stale", rec.ID)
	}

	next, err := jobexec.NewRecord(rec.Key, rec.StepName, rec.Attempt+1, now)
	if err != nil {
		return nil, err
	}
	next.Metadata.StepIndex = rec.Metadata.StepIndex
	next.Metadata.ParallelGroup = rec.Metadata.ParallelGroup

	reclaim := func(txCtx context.Context) error {
		failed, err := c.repo.UpdateByID(txCtx, rec.ID, jobexec.Finish(jobexec.StatusFailed, now, staleRestartMessage))
		if err != nil {
			return fmt.Errorf("fail stale record: %w", err)
		}
		if failed == nil {
			return fmt.Errorf("fail stale record %s: %w", rec.ID, jobexec.ErrRecordNotFound)
		}
		if err := c.repo.Create(txCtx, next); err != nil {
			return fmt.Errorf("create fresh attempt: %w", err)
		}
		return nil
	}

	if c.txm != nil {
		err = c.txm.InTransaction(ctx, reclaim)
	} else {
		err = reclaim(ctx)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Warn("[%s] reclaimed stale attempt %d, scheduled attempt %d", rec.Key, rec.Attempt, next.Attempt)
	return next, nil
}

// update writes a partial update. Store failures are logged and the local copy
// is updated instead, so bookkeeping never aborts a step.
func (c *JobExecutionCoordinator) update(ctx context.Context, rec *jobexec.Record, u jobexec.RecordUpdate) *jobexec.Record {
	if rec == nil {
		return nil
	}
	updated, err := c.repo.UpdateByID(ctx, rec.ID, u)
	if err == nil && updated != nil {
		return updated
	}
	if err == nil {
		err = jobexec.ErrRecordNotFound
	}
	c.logger.Warn("[%s] bookkeeping update of %s failed: %v", rec.Key, rec.ID, err)
	local := rec.Clone()
	u.Apply(local, c.now())
	return local
}

func marshalResult(result any) (json.RawMessage, error) {
	if result == nil {
		return nil, nil
	}
	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return data, nil
}
