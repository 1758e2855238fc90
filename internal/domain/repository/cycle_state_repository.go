package repository

import (
	"context"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

// CycleStateRepository persists one CycleState per workflow name
type CycleStateRepository interface {
	// FindByName returns the state for the workflow, or nil if none exists
	FindByName(ctx context.Context, name string) (*cycle.State, error)

	// Create persists a new state
	Create(ctx context.Context, state *cycle.State) error

	// UpdateFields applies a partial update and returns the updated state, or nil if not found
	UpdateFields(ctx context.Context, name string, update cycle.StateUpdate) (*cycle.State, error)
}
