package cycle

import "time"

// StateUpdate is a partial update of a State. Nil fields are left untouched.
type StateUpdate struct {
	CurrentCycle       *int
	TotalCycles        *int
	MaxCycles          *int
	ClearMaxCycles     bool
	IsRunning          *bool
	IsPaused           *bool
	ManualPause        *bool
	PauseReason        *string
	StopReason         *string
	CurrentStepIndex   *int
	TotalSteps         *int
	CompletedSteps     *int
	FailedSteps        *int
	Progress           *float64
	NextCycleScheduled *time.Time
	ClearNextCycle     bool
	PauseConditions    []string
	ContinueConditions []string

	// SetSteps writes CurrentStep and NextStep, including nil values
	SetSteps    bool
	CurrentStep *StepInfo
	NextStep    *StepInfo
}

// IsEmpty returns true if the update would not change anything
func (u StateUpdate) IsEmpty() bool {
	return u.CurrentCycle == nil && u.TotalCycles == nil && u.MaxCycles == nil && !u.ClearMaxCycles &&
		u.IsRunning == nil && u.IsPaused == nil && u.ManualPause == nil &&
		u.PauseReason == nil && u.StopReason == nil && u.CurrentStepIndex == nil &&
		u.TotalSteps == nil && u.CompletedSteps == nil && u.FailedSteps == nil &&
		u.Progress == nil && u.NextCycleScheduled == nil && !u.ClearNextCycle &&
		u.PauseConditions == nil && u.ContinueConditions == nil && !u.SetSteps
}

// Apply applies the update to an in-memory state
func (u StateUpdate) Apply(s *State, now time.Time) {
	if u.CurrentCycle != nil {
		s.CurrentCycle = *u.CurrentCycle
	}
	if u.TotalCycles != nil {
		s.TotalCycles = *u.TotalCycles
	}
	if u.ClearMaxCycles {
		s.MaxCycles = nil
	}
	if u.MaxCycles != nil {
		v := *u.MaxCycles
		s.MaxCycles = &v
	}
	if u.IsRunning != nil {
		s.IsRunning = *u.IsRunning
	}
	if u.IsPaused != nil {
		s.IsPaused = *u.IsPaused
	}
	if u.ManualPause != nil {
		s.ManualPause = *u.ManualPause
	}
	if u.PauseReason != nil {
		s.PauseReason = *u.PauseReason
	}
	if u.StopReason != nil {
		s.StopReason = *u.StopReason
	}
	if u.CurrentStepIndex != nil {
		s.CurrentStepIndex = *u.CurrentStepIndex
	}
	if u.TotalSteps != nil {
		s.TotalSteps = *u.TotalSteps
	}
	if u.CompletedSteps != nil {
		s.CompletedSteps = *u.CompletedSteps
	}
	if u.FailedSteps != nil {
		s.FailedSteps = *u.FailedSteps
	}
	if u.Progress != nil {
		s.Progress = ClampPercent(*u.Progress)
	}
	if u.ClearNextCycle {
		s.NextCycleScheduled = nil
	}
	if u.NextCycleScheduled != nil {
		v := *u.NextCycleScheduled
		s.NextCycleScheduled = &v
	}
	if u.PauseConditions != nil {
		s.PauseConditions = append([]string{}, u.PauseConditions...)
	}
	if u.ContinueConditions != nil {
		s.ContinueConditions = append([]string{}, u.ContinueConditions...)
	}
	if u.SetSteps {
		s.CurrentStep = copyStepInfo(u.CurrentStep)
		s.NextStep = copyStepInfo(u.NextStep)
	}
	s.UpdatedAt = now
}

func copyStepInfo(info *StepInfo) *StepInfo {
	if info == nil {
		return nil
	}
	v := *info
	return &v
}

// Ptr returns a pointer to v, for building partial updates
func Ptr[T any](v T) *T {
	return &v
}
