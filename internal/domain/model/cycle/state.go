package cycle

import (
	"errors"
	"time"
)

// ErrStateExists is returned when creating a state for a name that already has one
var ErrStateExists = errors.New("cycle state already exists")

// RunState is the high-level engine state derived from a CycleState
type RunState string

const (
	RunStateNotInitialized RunState = "not_initialized"
	RunStateRunning        RunState = "running"
	RunStatePaused         RunState = "paused"
	RunStateStopped        RunState = "stopped"
	RunStateCompleted      RunState = "completed" // transient, emitted between cycles
)

// StepInfo is denormalized display info about a workflow step
type StepInfo struct {
	Index  int    `json:"index"`
	StepID string `json:"stepId"`
	Name   string `json:"name"`
	NodeID string `json:"nodeId"`
}

// State is the persisted singleton describing a named workflow's cycles.
// Pause and continue conditions are stored as labels only.
type State struct {
	Name               string
	CurrentCycle       int
	TotalCycles        int
	MaxCycles          *int
	IsRunning          bool
	IsPaused           bool
	ManualPause        bool
	PauseReason        string
	StopReason         string
	CurrentStepIndex   int
	TotalSteps         int
	CompletedSteps     int
	FailedSteps        int
	Progress           float64
	CurrentStep        *StepInfo
	NextStep           *StepInfo
	NextCycleScheduled *time.Time
	PauseConditions    []string
	ContinueConditions []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewState creates the initial state for a workflow at cycle 1, step 0
func NewState(w Workflow, now time.Time) *State {
	st := &State{
		Name:               w.Name,
		CurrentCycle:       1,
		MaxCycles:          w.MaxCycles,
		TotalSteps:         w.Len(),
		PauseConditions:    []string{},
		ContinueConditions: []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	st.CurrentStep = w.StepInfo(0)
	st.NextStep = w.StepInfo(1)
	return st
}

// RunState derives the engine state
func (s *State) RunState() RunState {
	switch {
	case s == nil:
		return RunStateNotInitialized
	case s.IsPaused:
		return RunStatePaused
	case s.IsRunning:
		return RunStateRunning
	default:
		return RunStateStopped
	}
}

// MaxCyclesReached reports whether a bounded workflow has run all its cycles
func (s *State) MaxCyclesReached() bool {
	return s.MaxCycles != nil && s.TotalCycles >= *s.MaxCycles
}

// Clone returns a deep copy of the state
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	if s.MaxCycles != nil {
		v := *s.MaxCycles
		c.MaxCycles = &v
	}
	if s.CurrentStep != nil {
		v := *s.CurrentStep
		c.CurrentStep = &v
	}
	if s.NextStep != nil {
		v := *s.NextStep
		c.NextStep = &v
	}
	if s.NextCycleScheduled != nil {
		v := *s.NextCycleScheduled
		c.NextCycleScheduled = &v
	}
	c.PauseConditions = append([]string{}, s.PauseConditions...)
	c.ContinueConditions = append([]string{}, s.ContinueConditions...)
	return &c
}

// Snapshot builds the status-sink view of the state
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Name:         s.Name,
		State:        s.RunState(),
		IsRunning:    s.IsRunning,
		IsPaused:     s.IsPaused,
		ManualPause:  s.ManualPause,
		PauseReason:  s.PauseReason,
		StopReason:   s.StopReason,
		CurrentCycle: s.CurrentCycle,
		TotalCycles:  s.TotalCycles,
		Progress:     ClampPercent(s.Progress),
		StepIndex:    s.CurrentStepIndex,
		TotalSteps:   s.TotalSteps,
		UpdatedAt:    s.UpdatedAt,
	}
	if s.CurrentStep != nil {
		v := *s.CurrentStep
		snap.CurrentStep = &v
	}
	if s.NextStep != nil {
		v := *s.NextStep
		snap.NextStep = &v
	}
	if s.NextCycleScheduled != nil {
		v := *s.NextCycleScheduled
		snap.NextCycleScheduled = &v
	}
	return snap
}

// Snapshot is the status view pushed to sinks and served to readers
type Snapshot struct {
	Name               string     `json:"name"`
	State              RunState   `json:"state"`
	IsRunning          bool       `json:"isRunning"`
	IsPaused           bool       `json:"isPaused"`
	ManualPause        bool       `json:"manualPause"`
	PauseReason        string     `json:"pauseReason,omitempty"`
	StopReason         string     `json:"stopReason,omitempty"`
	CurrentCycle       int        `json:"currentCycle"`
	TotalCycles        int        `json:"totalCycles"`
	Progress           float64    `json:"progress"`
	StepIndex          int        `json:"stepIndex"`
	TotalSteps         int        `json:"totalSteps"`
	CurrentStep        *StepInfo  `json:"currentStep"`
	NextStep           *StepInfo  `json:"nextStep"`
	NextCycleScheduled *time.Time `json:"nextCycleScheduled"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// NotInitializedSnapshot is served when no state exists for a workflow
func NotInitializedSnapshot(name string) Snapshot {
	return Snapshot{
		Name:  name,
		State: RunStateNotInitialized,
	}
}
