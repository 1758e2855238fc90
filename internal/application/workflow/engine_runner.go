package workflow

import (
	"context"
	"fmt"

	"github.com/YoshitsuguKoike/quotacycle/internal/app"
	"github.com/YoshitsuguKoike/quotacycle/internal/application/service"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

// Recoverer computes the position a workflow resumes from
type Recoverer interface {
	Recover(ctx context.Context, w cycle.Workflow) (*service.RecoveryPlan, error)
}

// Engine is the cycle engine as seen by the runner
type Engine interface {
	Attach(w cycle.Workflow, state *cycle.State)
	Run(ctx context.Context) error
	State() cycle.State
}

// EngineRunner runs recovery and then the cycle engine for one workflow
type EngineRunner struct {
	workflow cycle.Workflow
	recovery Recoverer
	engine   Engine
	logger   app.Logger
}

// NewEngineRunner creates a runner for w
func NewEngineRunner(w cycle.Workflow, recovery Recoverer, engine Engine, logger app.Logger) *EngineRunner {
	if logger == nil {
		logger = app.NopLogger()
	}
	return &EngineRunner{
		workflow: w,
		recovery: recovery,
		engine:   engine,
		logger:   logger,
	}
}

func (r *EngineRunner) Name() string {
	return r.workflow.Name
}

func (r *EngineRunner) Description() string {
	if r.workflow.MaxCycles != nil {
		return fmt.Sprintf("%d steps, up to %d cycles", r.workflow.Len(), *r.workflow.MaxCycles)
	}
	return fmt.Sprintf("%d steps, unbounded cycles", r.workflow.Len())
}

// Run recovers the persisted state, attaches it and drives the engine
func (r *EngineRunner) Run(ctx context.Context) error {
	plan, err := r.recovery.Recover(ctx, r.workflow)
	if err != nil {
		return fmt.Errorf("recover %s: %w", r.workflow.Name, err)
	}
	if plan.Reclaimed > 0 {
		r.logger.Warn("[%s] %d stale executions replaced by fresh attempts", r.workflow.Name, plan.Reclaimed)
	}
	r.logger.Info("[%s] recovery: %s at cycle %d, step %d", r.workflow.Name, plan.Action, plan.State.CurrentCycle, plan.StartIndex)

	r.engine.Attach(r.workflow, plan.State)
	return r.engine.Run(ctx)
}

// State reports the live engine state
func (r *EngineRunner) State() cycle.State {
	return r.engine.State()
}
