package output

import (
	"context"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
)

// JobContext is handed to a job function for the duration of one step execution
type JobContext interface {
	// Progress reports completion as a fraction in [0,1]
	Progress(fraction float64)

	// AppendLog writes an operator-visible log line. Warnings, errors and
	// milestone messages are also persisted on the execution record.
	AppendLog(message string, level jobexec.LogLevel)
}

// JobFunc executes the domain work of one workflow step. The returned value is
// stored as the record's result. ctx is cancelled on timeout or shutdown; job
// functions should observe it cooperatively.
type JobFunc func(ctx context.Context, jc JobContext) (any, error)

// JobResolver looks up the job function bound to a step ID
type JobResolver interface {
	Resolve(stepID string) (JobFunc, bool)
}
