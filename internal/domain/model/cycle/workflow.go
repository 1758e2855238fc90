package cycle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidWorkflow is returned when a workflow definition cannot be executed
var ErrInvalidWorkflow = errors.New("invalid workflow")

// Step is the static definition of one workflow step.
// ParallelGroup is descriptive metadata only: steps always run one at a time.
type Step struct {
	Name          string
	StepID        string
	Skipped       bool
	ParallelGroup string
}

// DisplayName returns Name, falling back to StepID
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.StepID
}

// Workflow is an ordered list of steps. A step's prerequisites are the steps before it.
type Workflow struct {
	Name      string
	Steps     []Step
	MaxCycles *int
}

// Len returns the number of steps, which is the source of truth for TotalSteps
func (w Workflow) Len() int {
	return len(w.Steps)
}

// Validate checks the workflow can be driven by the engine
func (w Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidWorkflow)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidWorkflow, w.Name)
	}
	if w.MaxCycles != nil && *w.MaxCycles < 1 {
		return fmt.Errorf("%w: max cycles must be positive, got %d", ErrInvalidWorkflow, *w.MaxCycles)
	}
	seen := make(map[string]int, len(w.Steps))
	for i, step := range w.Steps {
		if strings.TrimSpace(step.StepID) == "" {
			return fmt.Errorf("%w: steps[%d] has empty id", ErrInvalidWorkflow, i)
		}
		if prev, dup := seen[step.StepID]; dup {
			return fmt.Errorf("%w: steps[%d] duplicates id %q of steps[%d]", ErrInvalidWorkflow, i, step.StepID, prev)
		}
		seen[step.StepID] = i
	}
	return nil
}

// HasParallelGroups reports whether any step carries a parallel group label
func (w Workflow) HasParallelGroups() bool {
	for _, step := range w.Steps {
		if step.ParallelGroup != "" {
			return true
		}
	}
	return false
}

// NodeID returns the stable, index-based identifier of the step at index
func (w Workflow) NodeID(index int) string {
	if index < 0 || index >= len(w.Steps) {
		return ""
	}
	return fmt.Sprintf("%s:%02d:%s", w.Name, index, w.Steps[index].StepID)
}

// StepInfo returns the display info of the step at index, or nil when out of range
func (w Workflow) StepInfo(index int) *StepInfo {
	if index < 0 || index >= len(w.Steps) {
		return nil
	}
	step := w.Steps[index]
	return &StepInfo{
		Index:  index,
		StepID: step.StepID,
		Name:   step.DisplayName(),
		NodeID: w.NodeID(index),
	}
}
