package service

import (
	"context"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/quotacycle/internal/app"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/repository"
)

// RecoveryAction is the decision taken for a workflow at process start
type RecoveryAction string

const (
	RecoveryFresh      RecoveryAction = "fresh"
	RecoveryResume     RecoveryAction = "resume"
	RecoveryNextCycle  RecoveryAction = "next_cycle"
	RecoveryStayPaused RecoveryAction = "stay_paused"
)

// RecoveryPlan is the outcome of Recover
type RecoveryPlan struct {
	Action     RecoveryAction
	State      *cycle.State
	StartIndex int
	Reclaimed  int // Stale in-flight records replaced by fresh attempts
}

// StaleReclaimer replaces a stale in-flight record with a fresh attempt
type StaleReclaimer interface {
	ReclaimStale(ctx context.Context, rec *jobexec.Record) (*jobexec.Record, error)
}

// RecoveryController reloads persisted cycle state and decides where to resume
type RecoveryController struct {
	stateRepo      repository.CycleStateRepository
	jobRepo        repository.JobExecutionRepository
	reclaimer      StaleReclaimer
	logger         app.Logger
	staleThreshold time.Duration
	now            func() time.Time
}

// NewRecoveryController creates a new recovery controller
func NewRecoveryController(
	stateRepo repository.CycleStateRepository,
	jobRepo repository.JobExecutionRepository,
	reclaimer StaleReclaimer,
	logger app.Logger,
	staleThreshold time.Duration,
) *RecoveryController {
	if logger == nil {
		logger = app.NopLogger()
	}
	return &RecoveryController{
		stateRepo:      stateRepo,
		jobRepo:        jobRepo,
		reclaimer:      reclaimer,
		logger:         logger,
		staleThreshold: staleThreshold,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Recover loads the state of w and computes the position the engine resumes from.
// The returned state is already persisted.
func (r *RecoveryController) Recover(ctx context.Context, w cycle.Workflow) (*RecoveryPlan, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	st, err := r.stateRepo.FindByName(ctx, w.Name)
	if err != nil {
		return nil, fmt.Errorf("load cycle state %s: %w", w.Name, err)
	}
	if st == nil {
		return r.initialize(ctx, w)
	}

	// The definition on disk is the source of truth for step count and identifiers
	update := cycle.StateUpdate{
		TotalSteps: cycle.Ptr(w.Len()),
		IsRunning:  cycle.Ptr(false),
	}
	if w.MaxCycles != nil {
		update.MaxCycles = w.MaxCycles
	} else {
		update.ClearMaxCycles = true
	}

	if st.CurrentCycle < 1 {
		r.logger.Warn("[%s] persisted cycle number %d is invalid, using 1", w.Name, st.CurrentCycle)
		update.CurrentCycle = cycle.Ptr(1)
		st.CurrentCycle = 1
	}
	if st.CurrentStepIndex < 0 || st.CurrentStepIndex > w.Len() {
		r.logger.Warn("[%s] persisted step index %d out of range for %d steps, restarting at 0",
			w.Name, st.CurrentStepIndex, w.Len())
		st.CurrentStepIndex = 0
	}

	plan := &RecoveryPlan{StartIndex: st.CurrentStepIndex}

	if st.IsPaused {
		plan.Action = RecoveryStayPaused
		index := st.CurrentStepIndex
		update.CurrentStepIndex = &index
		update.SetSteps = true
		update.CurrentStep = w.StepInfo(index)
		update.NextStep = w.StepInfo(index + 1)
		r.logger.Info("[%s] cycle %d is paused at step %d: %s", w.Name, st.CurrentCycle, index, st.PauseReason)
		return r.finish(ctx, w, plan, update)
	}

	records, err := r.jobRepo.FindMany(ctx, repository.JobExecutionFilter{
		WorkflowName: w.Name,
		CycleNumber:  st.CurrentCycle,
	})
	if err != nil {
		r.logger.Warn("[%s] loading cycle %d records failed, restarting at step 0: %v", w.Name, st.CurrentCycle, err)
		records = nil
	}
	latest := jobexec.LatestByStep(records)
	plan.Reclaimed = r.reclaimStale(ctx, w, latest)

	tally := cycle.Aggregate(w, latest)
	update.Progress = &tally.Progress
	update.CompletedSteps = &tally.Completed
	update.FailedSteps = &tally.Failed

	if cycle.IsExhausted(w, latest) {
		next := st.CurrentCycle + 1
		total := st.TotalCycles + 1
		zero := 0
		plan.Action = RecoveryNextCycle
		plan.StartIndex = 0
		update.CurrentCycle = &next
		update.TotalCycles = &total
		update.CurrentStepIndex = &zero
		update.Progress = cycle.Ptr(0.0)
		update.CompletedSteps = &zero
		update.FailedSteps = &zero
		update.SetSteps = true
		update.CurrentStep = w.StepInfo(0)
		update.NextStep = w.StepInfo(1)
		r.logger.Info("[%s] cycle %d was exhausted, starting cycle %d", w.Name, st.CurrentCycle, next)
		return r.finish(ctx, w, plan, update)
	}

	index := cycle.ResumeIndex(w, latest)
	plan.Action = RecoveryResume
	plan.StartIndex = index
	update.CurrentStepIndex = &index
	update.SetSteps = true
	update.CurrentStep = w.StepInfo(index)
	update.NextStep = w.StepInfo(index + 1)
	r.logger.Info("[%s] resuming cycle %d at step %d of %d (%.1f%% done)",
		w.Name, st.CurrentCycle, index, w.Len(), tally.Progress)
	return r.finish(ctx, w, plan, update)
}

func (r *RecoveryController) initialize(ctx context.Context, w cycle.Workflow) (*RecoveryPlan, error) {
	st := cycle.NewState(w, r.now())
	if err := r.stateRepo.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("create cycle state %s: %w", w.Name, err)
	}
	r.logger.Info("[%s] no persisted state, starting cycle 1", w.Name)
	return &RecoveryPlan{Action: RecoveryFresh, State: st}, nil
}

func (r *RecoveryController) finish(ctx context.Context, w cycle.Workflow, plan *RecoveryPlan, update cycle.StateUpdate) (*RecoveryPlan, error) {
	st, err := r.stateRepo.UpdateFields(ctx, w.Name, update)
	if err != nil {
		return nil, fmt.Errorf("update cycle state %s: %w", w.Name, err)
	}
	if st == nil {
		return nil, fmt.Errorf("update cycle state %s: state disappeared", w.Name)
	}
	plan.State = st
	return plan, nil
}

// reclaimStale swaps stale in-flight records for fresh attempts in latest
func (r *RecoveryController) reclaimStale(ctx context.Context, w cycle.Workflow, latest map[string]*jobexec.Record) int {
	if r.reclaimer == nil {
		return 0
	}
	now := r.now()
	reclaimed := 0
	for _, step := range w.Steps {
		rec, ok := latest[step.StepID]
		if !ok || !rec.IsStale(now, r.staleThreshold) {
			continue
		}
		next, err := r.reclaimer.ReclaimStale(ctx, rec)
		if err != nil {
			r.logger.Warn("[%s] reclaiming stale record failed: %v", rec.Key, err)
			continue
		}
		latest[step.StepID] = next
		reclaimed++
	}
	return reclaimed
}
