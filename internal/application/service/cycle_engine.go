package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/quotacycle/internal/app"
	"github.com/YoshitsuguKoike/quotacycle/internal/application/port/output"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/repository"
	domainservice "github.com/YoshitsuguKoike/quotacycle/internal/domain/service"
)

const stopReasonMaxCycles = "max cycles reached"

// ErrNoStateAttached is returned by Run when recovery has not attached a state
var ErrNoStateAttached = errors.New("cycle engine: no state attached")

// StepCoordinator runs steps and manages their execution records
type StepCoordinator interface {
	RunStep(ctx context.Context, step cycle.Step, cc CycleContext) StepResult
	CancelInFlight(ctx context.Context, workflowName string, cycleNumber int) int
	FailRecord(ctx context.Context, rec *jobexec.Record, err error) *jobexec.Record
}

// PauseInput is what a pause condition inspects after a step outcome
type PauseInput struct {
	Step    cycle.Step
	Outcome jobexec.Outcome
	Err     error
	State   cycle.State
	Now     time.Time
}

// PauseCondition decides whether a step outcome pauses the cycle
type PauseCondition struct {
	Label string
	Check func(in PauseInput) bool
}

// ContinueCondition decides whether a paused cycle may resume
type ContinueCondition struct {
	Label string
	Check func(state cycle.State, now time.Time) bool
}

// QuotaSignalPauseCondition pauses on quota-classified step failures
func QuotaSignalPauseCondition() PauseCondition {
	return PauseCondition{
		Label: "quota signal",
		Check: func(in PauseInput) bool { return in.Outcome == jobexec.OutcomeQuotaPause },
	}
}

// QuotaWindowContinueCondition continues once the scheduled quota reset has passed
func QuotaWindowContinueCondition() ContinueCondition {
	return ContinueCondition{
		Label: "quota window rolled over",
		Check: func(state cycle.State, now time.Time) bool {
			return state.NextCycleScheduled == nil || !now.Before(*state.NextCycleScheduled)
		},
	}
}

// EngineConfig holds configuration for the cycle engine
type EngineConfig struct {
	PausePollInterval       time.Duration // How often continue conditions are evaluated
	ProgressPublishInterval time.Duration // Minimum delay between progress recomputes
	ResetPolicy             domainservice.QuotaResetPolicy
}

// DefaultEngineConfig returns default configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PausePollInterval:       time.Minute,
		ProgressPublishInterval: 5 * time.Second,
		ResetPolicy:             domainservice.NextUTCMidnight,
	}
}

// EngineDeps are the collaborators of a cycle engine
type EngineDeps struct {
	StateRepo   repository.CycleStateRepository
	JobRepo     repository.JobExecutionRepository
	Coordinator StepCoordinator
	Publisher   *StatusPublisher
	Queue       output.APIQueue
	Logger      app.Logger
}

// CycleEngine drives one named workflow through repeating cycles, one step at a time
type CycleEngine struct {
	deps   EngineDeps
	config EngineConfig
	logger app.Logger
	now    func() time.Time

	mu                 sync.Mutex
	workflow           cycle.Workflow
	state              *cycle.State
	pauseConditions    []PauseCondition
	continueConditions []ContinueCondition

	wake     chan struct{}
	progress *Throttle
}

// NewCycleEngine creates a new cycle engine
func NewCycleEngine(deps EngineDeps, config EngineConfig) *CycleEngine {
	if deps.Logger == nil {
		deps.Logger = app.NopLogger()
	}
	if config.ResetPolicy == nil {
		config.ResetPolicy = domainservice.NextUTCMidnight
	}
	if config.PausePollInterval <= 0 {
		config.PausePollInterval = time.Minute
	}
	e := &CycleEngine{
		deps:   deps,
		config: config,
		logger: deps.Logger,
		now:    func() time.Time { return time.Now().UTC() },
		wake:   make(chan struct{}, 1),
	}
	return e
}

// AddPauseCondition registers a process-local pause predicate
func (e *CycleEngine) AddPauseCondition(cond PauseCondition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseConditions = append(e.pauseConditions, cond)
}

// AddContinueCondition registers a process-local continue predicate
func (e *CycleEngine) AddContinueCondition(cond ContinueCondition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.continueConditions = append(e.continueConditions, cond)
}

// Attach sets the workflow and the recovered state the engine starts from
func (e *CycleEngine) Attach(w cycle.Workflow, state *cycle.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflow = w
	e.state = state.Clone()
}

// Workflow returns the attached workflow
func (e *CycleEngine) Workflow() cycle.Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workflow
}

// State returns a copy of the current cycle state
func (e *CycleEngine) State() cycle.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return cycle.State{}
	}
	return *e.state.Clone()
}

// Name returns the workflow name
func (e *CycleEngine) Name() string {
	return e.Workflow().Name
}

// Run drives cycles until ctx is cancelled, max cycles is reached, or the state is lost
func (e *CycleEngine) Run(ctx context.Context) error {
	e.mu.Lock()
	attached := e.state != nil
	pauseLabels := conditionLabels(e.pauseConditions, func(c PauseCondition) string { return c.Label })
	continueLabels := conditionLabels(e.continueConditions, func(c ContinueCondition) string { return c.Label })
	e.mu.Unlock()
	if !attached {
		return ErrNoStateAttached
	}
	e.progress = NewThrottle(e.config.ProgressPublishInterval, func() {
		e.RecomputeProgress(context.Background())
	})
	defer e.progress.Stop()

	w := e.Workflow()
	if w.HasParallelGroups() {
		e.logger.Info("[%s] parallel groups are informational; steps run sequentially", w.Name)
	}
	e.commit(ctx, cycle.StateUpdate{
		PauseConditions:    pauseLabels,
		ContinueConditions: continueLabels,
		TotalSteps:         cycle.Ptr(w.Len()),
	})

	for {
		if err := ctx.Err(); err != nil {
			e.shutdown(ctx)
			return err
		}

		st := e.State()
		if st.MaxCyclesReached() {
			e.stop(ctx, stopReasonMaxCycles)
			return nil
		}

		if st.IsPaused {
			if err := e.waitForContinue(ctx); err != nil {
				e.shutdown(ctx)
				return err
			}
			continue
		}

		if !st.IsRunning || st.StopReason != "" {
			e.commit(ctx, cycle.StateUpdate{IsRunning: cycle.Ptr(true), StopReason: cycle.Ptr("")})
		}

		paused, err := e.runSteps(ctx)
		if err != nil {
			e.shutdown(ctx)
			return err
		}
		if paused {
			continue
		}
		e.completeCycle(ctx)
	}
}

// runSteps executes steps from the current index. It returns true when the cycle paused.
func (e *CycleEngine) runSteps(ctx context.Context) (bool, error) {
	for {
		e.syncManualPause(ctx)

		st := e.State()
		w := e.Workflow()
		if st.IsPaused {
			return true, nil
		}
		i := st.CurrentStepIndex
		if i >= w.Len() {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		step := w.Steps[i]
		e.commit(ctx, cycle.StateUpdate{
			SetSteps:    true,
			CurrentStep: w.StepInfo(i),
			NextStep:    w.StepInfo(i + 1),
		})

		res := e.deps.Coordinator.RunStep(ctx, step, CycleContext{
			WorkflowName: w.Name,
			CycleNumber:  st.CurrentCycle,
			StepIndex:    i,
			OnProgress:   e.progress.Trigger,
		})

		switch res.Outcome {
		case jobexec.OutcomeInterrupted:
			if err := ctx.Err(); err != nil {
				return false, err
			}
			return false, res.Err

		case jobexec.OutcomeQuotaPause:
			if e.shouldPause(step, res) {
				e.pauseForQuota(ctx, step, res.Err)
				return true, nil
			}
			e.logger.Warn("[%s] quota signal on %s matched no pause condition, recording failure", w.Name, step.StepID)
			e.deps.Coordinator.FailRecord(context.WithoutCancel(ctx), res.Record, res.Err)
			e.logger.Warn("[%s] step %s failed in cycle %d: %v", w.Name, step.StepID, st.CurrentCycle, res.Err)

		case jobexec.OutcomeFailure:
			e.logger.Warn("[%s] step %s failed in cycle %d: %v", w.Name, step.StepID, st.CurrentCycle, res.Err)

		default:
			e.logger.Debug("[%s] step %s: %s", w.Name, step.StepID, res.Outcome)
		}

		e.RecomputeProgress(ctx)
		e.commit(ctx, cycle.StateUpdate{CurrentStepIndex: cycle.Ptr(i + 1)})
	}
}

func (e *CycleEngine) shouldPause(step cycle.Step, res StepResult) bool {
	e.mu.Lock()
	conds := append([]PauseCondition(nil), e.pauseConditions...)
	e.mu.Unlock()

	in := PauseInput{Step: step, Outcome: res.Outcome, Err: res.Err, State: e.State(), Now: e.now()}
	for _, cond := range conds {
		if cond.Check(in) {
			return true
		}
	}
	return false
}

// pauseForQuota cancels in-flight bookkeeping and suspends the cycle at the failing step
func (e *CycleEngine) pauseForQuota(ctx context.Context, step cycle.Step, cause error) {
	bctx := context.WithoutCancel(ctx)
	st := e.State()
	now := e.now()
	next := e.config.ResetPolicy(now)

	cancelled := e.deps.Coordinator.CancelInFlight(bctx, st.Name, st.CurrentCycle)
	aborted := 0
	if e.deps.Queue != nil {
		aborted = e.deps.Queue.CancelAll()
	}

	reason := fmt.Sprintf("API quota exhausted during %s", step.DisplayName())
	if cause != nil {
		reason = fmt.Sprintf("%s: %v", reason, cause)
	}

	e.RecomputeProgress(bctx)
	e.commit(bctx, cycle.StateUpdate{
		IsPaused:           cycle.Ptr(true),
		IsRunning:          cycle.Ptr(false),
		PauseReason:        &reason,
		NextCycleScheduled: &next,
	})
	e.flush(bctx)

	e.logger.Warn("[%s] cycle %d paused at step %d (%s): %d executions cancelled, %d queued calls aborted; next attempt at %s",
		st.Name, st.CurrentCycle, st.CurrentStepIndex, step.StepID, cancelled, aborted, next.Format(time.RFC3339))
}

// waitForContinue blocks until a continue condition holds or a manual resume arrives
func (e *CycleEngine) waitForContinue(ctx context.Context) error {
	ticker := time.NewTicker(e.config.PausePollInterval)
	defer ticker.Stop()

	for {
		if e.tryContinue(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.wake:
		}
	}
}

func (e *CycleEngine) tryContinue(ctx context.Context) bool {
	e.syncManualPause(ctx)

	st := e.State()
	if !st.IsPaused {
		return true
	}
	if st.ManualPause {
		return false
	}

	e.mu.Lock()
	conds := append([]ContinueCondition(nil), e.continueConditions...)
	e.mu.Unlock()

	now := e.now()
	for _, cond := range conds {
		if !cond.Check(st, now) {
			continue
		}
		e.commit(ctx, cycle.StateUpdate{
			IsPaused:       cycle.Ptr(false),
			IsRunning:      cycle.Ptr(true),
			PauseReason:    cycle.Ptr(""),
			ClearNextCycle: true,
		})
		e.logger.Info("[%s] continuing cycle %d at step %d (%s)", st.Name, st.CurrentCycle, st.CurrentStepIndex, cond.Label)
		return true
	}
	return false
}

// Pause suspends the engine before its next step until Resume is called
func (e *CycleEngine) Pause(ctx context.Context, reason string) {
	if reason == "" {
		reason = "paused by operator"
	}
	e.commit(ctx, cycle.StateUpdate{
		IsPaused:    cycle.Ptr(true),
		ManualPause: cycle.Ptr(true),
		IsRunning:   cycle.Ptr(false),
		PauseReason: &reason,
	})
	e.flush(ctx)
	e.logger.Info("[%s] paused: %s", e.Name(), reason)
}

// Resume clears a manual or quota pause and wakes the engine
func (e *CycleEngine) Resume(ctx context.Context) {
	e.commit(ctx, cycle.StateUpdate{
		IsPaused:       cycle.Ptr(false),
		ManualPause:    cycle.Ptr(false),
		IsRunning:      cycle.Ptr(true),
		PauseReason:    cycle.Ptr(""),
		ClearNextCycle: true,
	})
	select {
	case e.wake <- struct{}{}:
	default:
	}
	e.logger.Info("[%s] resumed", e.Name())
}

// syncManualPause adopts a pause or resume written to the store by another process
func (e *CycleEngine) syncManualPause(ctx context.Context) {
	if e.deps.StateRepo == nil {
		return
	}
	st := e.State()
	stored, err := e.deps.StateRepo.FindByName(ctx, st.Name)
	if err != nil || stored == nil || !stored.UpdatedAt.After(st.UpdatedAt) {
		return
	}

	switch {
	case stored.ManualPause && !st.ManualPause:
		e.mu.Lock()
		e.state.ManualPause = true
		e.state.IsPaused = true
		e.state.IsRunning = false
		e.state.PauseReason = stored.PauseReason
		snap := e.state.Snapshot()
		e.mu.Unlock()
		e.publish(snap)
		e.logger.Info("[%s] manual pause requested: %s", st.Name, stored.PauseReason)

	case st.IsPaused && !stored.IsPaused:
		e.mu.Lock()
		e.state.ManualPause = false
		e.state.IsPaused = false
		e.state.PauseReason = ""
		e.state.NextCycleScheduled = nil
		snap := e.state.Snapshot()
		e.mu.Unlock()
		e.publish(snap)
		e.logger.Info("[%s] resume requested", st.Name)
	}
}

// RecomputeProgress refreshes aggregate progress from the current cycle's records
func (e *CycleEngine) RecomputeProgress(ctx context.Context) {
	st := e.State()
	w := e.Workflow()
	if e.deps.JobRepo == nil || st.Name == "" {
		return
	}

	records, err := e.deps.JobRepo.FindMany(ctx, repository.JobExecutionFilter{
		WorkflowName: w.Name,
		CycleNumber:  st.CurrentCycle,
	})
	if err != nil {
		e.logger.Warn("[%s] loading cycle %d records for progress failed: %v", w.Name, st.CurrentCycle, err)
		return
	}
	tally := cycle.Aggregate(w, jobexec.LatestByStep(records))

	e.commitIf(ctx, st.CurrentCycle, cycle.StateUpdate{
		Progress:       &tally.Progress,
		CompletedSteps: &tally.Completed,
		FailedSteps:    &tally.Failed,
		TotalSteps:     cycle.Ptr(w.Len()),
	})
}

// completeCycle emits the completion marker and starts the next cycle immediately
func (e *CycleEngine) completeCycle(ctx context.Context) {
	st := e.State()
	w := e.Workflow()

	marker := st.Snapshot()
	marker.State = cycle.RunStateCompleted
	if e.deps.Publisher != nil {
		e.deps.Publisher.PublishNow(context.WithoutCancel(ctx), marker)
	}
	e.logger.Info("[%s] cycle %d completed: %d/%d steps done, %d failed",
		w.Name, st.CurrentCycle, st.CompletedSteps, w.Len(), st.FailedSteps)

	zero := 0
	e.commit(ctx, cycle.StateUpdate{
		CurrentCycle:     cycle.Ptr(st.CurrentCycle + 1),
		TotalCycles:      cycle.Ptr(st.TotalCycles + 1),
		CurrentStepIndex: &zero,
		CompletedSteps:   &zero,
		FailedSteps:      &zero,
		Progress:         cycle.Ptr(0.0),
		SetSteps:         true,
		CurrentStep:      w.StepInfo(0),
		NextStep:         w.StepInfo(1),
	})
}

func (e *CycleEngine) stop(ctx context.Context, reason string) {
	bctx := context.WithoutCancel(ctx)
	e.commit(bctx, cycle.StateUpdate{
		IsRunning:  cycle.Ptr(false),
		StopReason: &reason,
	})
	e.flush(bctx)
	e.logger.Info("[%s] stopped: %s", e.Name(), reason)
}

// shutdown records a graceful stop; the next start resumes mid-cycle
func (e *CycleEngine) shutdown(ctx context.Context) {
	bctx := context.WithoutCancel(ctx)
	e.commit(bctx, cycle.StateUpdate{IsRunning: cycle.Ptr(false)})
	e.flush(bctx)
}

func (e *CycleEngine) flush(ctx context.Context) {
	if e.deps.Publisher != nil {
		e.deps.Publisher.Flush(ctx)
	}
}

// commit applies a partial update to the in-memory state, persists the same
// fields and publishes the resulting snapshot.
func (e *CycleEngine) commit(ctx context.Context, u cycle.StateUpdate) {
	e.commitIf(ctx, 0, u)
}

// commitIf commits only while the state is still on cycleNumber (0 disables the check)
func (e *CycleEngine) commitIf(ctx context.Context, cycleNumber int, u cycle.StateUpdate) {
	e.mu.Lock()
	if e.state == nil || (cycleNumber != 0 && e.state.CurrentCycle != cycleNumber) {
		e.mu.Unlock()
		return
	}
	u.Apply(e.state, e.now())
	snap := e.state.Snapshot()
	name := e.state.Name

	if e.deps.StateRepo != nil {
		if _, err := e.deps.StateRepo.UpdateFields(context.WithoutCancel(ctx), name, u); err != nil {
			e.logger.Warn("[%s] persisting cycle state failed: %v", name, err)
		}
	}
	e.mu.Unlock()

	e.publish(snap)
}

func (e *CycleEngine) publish(snap cycle.Snapshot) {
	if e.deps.Publisher != nil {
		e.deps.Publisher.Publish(snap)
	}
}

func conditionLabels[T any](conds []T, label func(T) string) []string {
	labels := make([]string, 0, len(conds))
	for _, c := range conds {
		labels = append(labels, label(c))
	}
	return labels
}
