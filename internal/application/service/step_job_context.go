package service

import (
	"context"
	"regexp"
	"sync"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
)

// milestonePattern matches log lines worth persisting regardless of level
var milestonePattern = regexp.MustCompile(`(?i)\b(start(ed|ing)?|complete(d)?|summary)\b`)

// stepJobContext implements output.JobContext for one step execution
type stepJobContext struct {
	ctx        context.Context
	coord      *JobExecutionCoordinator
	key        jobexec.Key
	recordID   string
	onProgress func()

	mu     sync.Mutex
	closed bool
}

func newStepJobContext(
	ctx context.Context,
	coord *JobExecutionCoordinator,
	key jobexec.Key,
	rec *jobexec.Record,
	onProgress func(),
) *stepJobContext {
	jc := &stepJobContext{
		ctx:        ctx,
		coord:      coord,
		key:        key,
		onProgress: onProgress,
	}
	if rec != nil {
		jc.recordID = rec.ID
	}
	return jc
}

// Progress writes only the progress field of the record
func (j *stepJobContext) Progress(fraction float64) {
	if !j.active() {
		return
	}
	if _, err := j.coord.repo.UpdateByID(j.ctx, j.recordID, jobexec.SetProgress(fraction)); err != nil {
		j.coord.logger.Warn("[%s] progress update failed: %v", j.key, err)
		return
	}
	if j.onProgress != nil {
		j.onProgress()
	}
}

// AppendLog forwards to the logger and persists warnings, errors and milestones
func (j *stepJobContext) AppendLog(message string, level jobexec.LogLevel) {
	logger := j.coord.logger
	switch level {
	case jobexec.LogLevelDebug:
		logger.Debug("[%s] %s", j.key, message)
	case jobexec.LogLevelWarn:
		logger.Warn("[%s] %s", j.key, message)
	case jobexec.LogLevelError:
		logger.Error("[%s] %s", j.key, message)
	default:
		logger.Info("[%s] %s", j.key, message)
	}

	if !j.active() || !shouldPersistLog(message, level) {
		return
	}
	entry := jobexec.LogEntry{Message: message, Level: level, Timestamp: j.coord.now()}
	if err := j.coord.repo.AppendLog(j.ctx, j.recordID, entry, j.coord.config.MaxLogEntries); err != nil {
		logger.Warn("[%s] persisting log entry failed: %v", j.key, err)
	}
}

// close detaches the context from the record once the coordinator stops waiting
func (j *stepJobContext) close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
}

func (j *stepJobContext) active() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.closed && j.recordID != ""
}

func shouldPersistLog(message string, level jobexec.LogLevel) bool {
	if level == jobexec.LogLevelWarn || level == jobexec.LogLevelError {
		return true
	}
	return milestonePattern.MatchString(message)
}
