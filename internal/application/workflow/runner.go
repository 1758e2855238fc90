package workflow

import (
	"context"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

// WorkflowRunner drives one workflow until ctx is cancelled or it stops on its own
type WorkflowRunner interface {
	// Name returns the workflow name
	Name() string

	// Run recovers the persisted position and drives cycles from there.
	// A nil return means the workflow stopped by itself (e.g. max cycles reached).
	Run(ctx context.Context) error

	// Description returns a human-readable description
	Description() string
}

// StateReporter is implemented by runners that can report their live cycle state
type StateReporter interface {
	State() cycle.State
}

// Service is a background loop that lives as long as the workflows do
type Service interface {
	Name() string
	Run(ctx context.Context) error
}
