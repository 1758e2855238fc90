package jobexec

// Status represents the lifecycle status of a single job execution record
type Status string

const (
	StatusScheduled Status = "scheduled" // Created, not yet started
	StatusRunning   Status = "running"   // Job function is executing
	StatusRetrying  Status = "retrying"  // Re-attempt of a cancelled or failed execution
	StatusCompleted Status = "completed" // Job function returned successfully
	StatusFailed    Status = "failed"    // Job function failed (ordinary failure or stale)
	StatusSkipped   Status = "skipped"   // Step disabled by workflow configuration
	StatusCancelled Status = "cancelled" // Bookkeeping cancelled by a cycle pause
)

// AllStatuses lists every valid status in lifecycle order
var AllStatuses = []Status{
	StatusScheduled,
	StatusRunning,
	StatusRetrying,
	StatusCompleted,
	StatusFailed,
	StatusSkipped,
	StatusCancelled,
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the known statuses
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsInFlight returns true while a job function is (or was, before a crash) executing
func (s Status) IsInFlight() bool {
	return s == StatusRunning || s == StatusRetrying
}

// IsDone returns true if the step needs no further execution in its cycle
func (s Status) IsDone() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// IsExhausted returns true if the execution reached an end state for its cycle.
// Failed executions are exhausted but not done: they are re-attempted on resume.
func (s Status) IsExhausted() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// IsRetryable returns true if the execution may be re-attempted while preserving progress
func (s Status) IsRetryable() bool {
	return s == StatusCancelled || s == StatusFailed
}
