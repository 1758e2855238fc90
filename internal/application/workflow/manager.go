package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/YoshitsuguKoike/quotacycle/internal/app"
)

// ErrNoWorkflows is returned by Run when no enabled workflow is registered
var ErrNoWorkflows = errors.New("no enabled workflows found")

// WorkflowManager supervises workflow runners and the background services they
// depend on. A runner that fails is restarted with exponential backoff; recovery
// runs again on every restart.
type WorkflowManager struct {
	workflows map[string]WorkflowRunner
	configs   map[string]WorkflowConfig
	stats     map[string]*WorkflowStats
	services  []Service
	mutex     sync.RWMutex

	logger app.Logger
}

// NewWorkflowManager creates a new workflow manager
func NewWorkflowManager(logger app.Logger) *WorkflowManager {
	if logger == nil {
		logger = app.NopLogger()
	}
	return &WorkflowManager{
		workflows: make(map[string]WorkflowRunner),
		configs:   make(map[string]WorkflowConfig),
		stats:     make(map[string]*WorkflowStats),
		logger:    logger,
	}
}

// RegisterWorkflow registers a new workflow runner
func (wm *WorkflowManager) RegisterWorkflow(runner WorkflowRunner, config WorkflowConfig) error {
	wm.mutex.Lock()
	defer wm.mutex.Unlock()

	name := runner.Name()
	if _, exists := wm.workflows[name]; exists {
		return fmt.Errorf("workflow %s already registered", name)
	}

	wm.workflows[name] = runner
	wm.configs[name] = config
	wm.stats[name] = &WorkflowStats{Name: name}

	wm.logger.Info("Registered workflow: %s (%s)", name, runner.Description())
	return nil
}

// RegisterService adds a background service started alongside the workflows
func (wm *WorkflowManager) RegisterService(svc Service) {
	wm.mutex.Lock()
	defer wm.mutex.Unlock()
	wm.services = append(wm.services, svc)
}

// GetWorkflowNames returns the sorted names of all registered workflows
func (wm *WorkflowManager) GetWorkflowNames() []string {
	wm.mutex.RLock()
	defer wm.mutex.RUnlock()

	names := make([]string, 0, len(wm.workflows))
	for name := range wm.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetEnabledWorkflows returns the sorted names of enabled workflows
func (wm *WorkflowManager) GetEnabledWorkflows() []string {
	wm.mutex.RLock()
	defer wm.mutex.RUnlock()

	var enabled []string
	for name := range wm.workflows {
		if config, exists := wm.configs[name]; exists && config.Enabled {
			enabled = append(enabled, name)
		}
	}
	sort.Strings(enabled)
	return enabled
}

// Run starts every enabled workflow and every background service and blocks
// until all workflows have stopped. Services are stopped once the last workflow
// returns. Cancelling ctx is a graceful shutdown and is not reported as an error.
func (wm *WorkflowManager) Run(ctx context.Context) error {
	enabled := wm.GetEnabledWorkflows()
	if len(enabled) == 0 {
		return ErrNoWorkflows
	}

	wm.mutex.RLock()
	services := append([]Service(nil), wm.services...)
	wm.mutex.RUnlock()

	wm.logger.Info("Starting %d enabled workflows: %v", len(enabled), enabled)

	g, gctx := errgroup.WithContext(ctx)
	svcCtx, stopServices := context.WithCancel(gctx)
	defer stopServices()

	for _, svc := range services {
		g.Go(func() error {
			if err := svc.Run(svcCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", svc.Name(), err)
			}
			return nil
		})
	}

	var runners sync.WaitGroup
	for _, name := range enabled {
		wm.mutex.RLock()
		runner, config, stats := wm.workflows[name], wm.configs[name], wm.stats[name]
		wm.mutex.RUnlock()

		runners.Add(1)
		g.Go(func() error {
			defer runners.Done()
			return wm.supervise(gctx, runner, config, stats)
		})
	}

	g.Go(func() error {
		runners.Wait()
		stopServices()
		return nil
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}
	wm.logger.Info("All workflows stopped")
	return err
}

// supervise runs one workflow, restarting it on failure
func (wm *WorkflowManager) supervise(ctx context.Context, runner WorkflowRunner, config WorkflowConfig, stats *WorkflowStats) error {
	name := runner.Name()
	consecutiveErrors := 0

	for {
		startTime := time.Now()
		stats.mutex.Lock()
		stats.Starts++
		if stats.Starts > 1 {
			stats.Restarts++
		}
		stats.LastStart = startTime
		stats.IsRunning = true
		startNum := stats.Starts
		stats.mutex.Unlock()

		wm.logger.Info("[%s] workflow started (run #%d)", name, startNum)
		err := wm.runWithHeartbeat(ctx, runner, config)

		stats.mutex.Lock()
		stats.IsRunning = false
		stats.Uptime += time.Since(startTime)
		if err != nil && ctx.Err() == nil {
			stats.Failures++
			stats.LastError = err
		}
		stats.mutex.Unlock()

		switch {
		case ctx.Err() != nil:
			wm.logger.Info("[%s] workflow stopping due to shutdown signal", name)
			return nil
		case err == nil:
			wm.logger.Info("[%s] workflow finished", name)
			return nil
		}

		if config.MaxBackoff > 0 && time.Since(startTime) > config.MaxBackoff {
			consecutiveErrors = 0
		}
		consecutiveErrors++
		if config.MaxRestarts > 0 && consecutiveErrors > config.MaxRestarts {
			return fmt.Errorf("workflow %s failed %d times: %w", name, consecutiveErrors, err)
		}

		interval := calculateNextInterval(config.RestartBackoff, config.MaxBackoff, consecutiveErrors)
		wm.logger.Warn("[%s] workflow failed: %v (restart in %v)", name, err, interval)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runWithHeartbeat runs the workflow and logs its position periodically
func (wm *WorkflowManager) runWithHeartbeat(ctx context.Context, runner WorkflowRunner, config WorkflowConfig) error {
	reporter, ok := runner.(StateReporter)
	if !ok || config.HeartbeatInterval <= 0 {
		return runner.Run(ctx)
	}

	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx)
	}()

	heartbeat := time.NewTicker(config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-heartbeat.C:
			st := reporter.State()
			wm.logger.Info("💓 [%s] %s: cycle %d, step %d/%d (%.1f%%)",
				runner.Name(), st.RunState(), st.CurrentCycle, st.CurrentStepIndex, st.TotalSteps, st.Progress)
		}
	}
}

// GetStats returns a copy of the statistics of every workflow
func (wm *WorkflowManager) GetStats() map[string]*WorkflowStats {
	wm.mutex.RLock()
	defer wm.mutex.RUnlock()

	result := make(map[string]*WorkflowStats, len(wm.stats))
	for name, stats := range wm.stats {
		result[name] = stats.snapshot()
	}
	return result
}

// PrintStats logs statistics for all workflows
func (wm *WorkflowManager) PrintStats() {
	stats := wm.GetStats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	wm.logger.Info("=== Workflow Manager Statistics ===")
	for _, name := range names {
		stat := stats[name]
		status := "STOPPED"
		if stat.IsRunning {
			status = "RUNNING"
		}

		wm.logger.Info("Workflow: %s [%s]", name, status)
		wm.logger.Info("  Starts: %d (restarts: %d)", stat.Starts, stat.Restarts)
		wm.logger.Info("  Failures: %d", stat.Failures)
		if !stat.LastStart.IsZero() {
			wm.logger.Info("  Last start: %s", stat.LastStart.Format("15:04:05"))
		}
		if stat.LastError != nil {
			wm.logger.Info("  Last error: %v", stat.LastError)
		}
		wm.logger.Info("  Uptime: %v", stat.Uptime.Round(time.Second))
	}
	wm.logger.Info("===================================")
}

// calculateNextInterval implements exponential backoff for consecutive errors
func calculateNextInterval(base, max time.Duration, consecutiveErrors int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if consecutiveErrors <= 1 {
		return base
	}

	backoff := base
	for i := 1; i < consecutiveErrors; i++ {
		backoff *= 2
		if max > 0 && backoff >= max {
			return max
		}
	}
	return backoff
}
