package jobexec

// Outcome classifies the result of running one workflow step
type Outcome int

const (
	OutcomeSuccess     Outcome = iota // Job function returned successfully
	OutcomeSkipped                    // Step is disabled in the workflow
	OutcomeAlreadyDone                // Step already completed in this cycle
	OutcomeFailure                    // Ordinary failure, including timeouts
	OutcomeQuotaPause                 // Provider quota exhausted, cycle should pause
	OutcomeInterrupted                // Caller context cancelled, step left in flight
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeAlreadyDone:
		return "already_done"
	case OutcomeFailure:
		return "failure"
	case OutcomeQuotaPause:
		return "quota_pause"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Advances returns true if the engine should move past the step
func (o Outcome) Advances() bool {
	switch o {
	case OutcomeSuccess, OutcomeSkipped, OutcomeAlreadyDone, OutcomeFailure:
		return true
	default:
		return false
	}
}
