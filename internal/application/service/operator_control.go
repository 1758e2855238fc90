package service

import (
	"context"
	"fmt"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/repository"
)

// OperatorControl pauses and resumes workflows through the state store. A
// running engine adopts the change on its next step boundary or poll.
type OperatorControl struct {
	stateRepo repository.CycleStateRepository
}

// NewOperatorControl creates a new operator control
func NewOperatorControl(stateRepo repository.CycleStateRepository) *OperatorControl {
	return &OperatorControl{stateRepo: stateRepo}
}

// Pause sets a manual pause on the named workflow
func (o *OperatorControl) Pause(ctx context.Context, name, reason string) (*cycle.State, error) {
	if reason == "" {
		reason = "paused by operator"
	}
	return o.update(ctx, name, cycle.StateUpdate{
		IsPaused:    cycle.Ptr(true),
		ManualPause: cycle.Ptr(true),
		IsRunning:   cycle.Ptr(false),
		PauseReason: &reason,
	})
}

// Resume clears a manual or quota pause on the named workflow
func (o *OperatorControl) Resume(ctx context.Context, name string) (*cycle.State, error) {
	return o.update(ctx, name, cycle.StateUpdate{
		IsPaused:       cycle.Ptr(false),
		ManualPause:    cycle.Ptr(false),
		PauseReason:    cycle.Ptr(""),
		ClearNextCycle: true,
	})
}

func (o *OperatorControl) update(ctx context.Context, name string, u cycle.StateUpdate) (*cycle.State, error) {
	st, err := o.stateRepo.UpdateFields(ctx, name, u)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", name, err)
	}
	if st == nil {
		return nil, fmt.Errorf("workflow %s has no persisted state", name)
	}
	return st, nil
}
