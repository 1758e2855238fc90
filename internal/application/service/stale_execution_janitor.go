package service

import (
	"context"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/quotacycle/internal/app"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/repository"
)

const staleCeilingMessage = "stale: exceeded running ceiling"

// JanitorConfig holds configuration for the stale execution janitor
type JanitorConfig struct {
	SweepInterval  time.Duration // How often to sweep
	RunningCeiling time.Duration // Absolute age after which an in-flight record is failed
}

// DefaultJanitorConfig returns default configuration
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		SweepInterval:  15 * time.Minute,
		RunningCeiling: 6 * time.Hour,
	}
}

// StaleExecutionJanitor periodically fails records stuck in flight far beyond
// any step timeout. It is independent of the resume-time staleness check.
type StaleExecutionJanitor struct {
	repo   repository.JobExecutionRepository
	logger app.Logger
	config JanitorConfig
	now    func() time.Time
}

// NewStaleExecutionJanitor creates a new janitor
func NewStaleExecutionJanitor(repo repository.JobExecutionRepository, logger app.Logger, config JanitorConfig) *StaleExecutionJanitor {
	if logger == nil {
		logger = app.NopLogger()
	}
	return &StaleExecutionJanitor{
		repo:   repo,
		logger: logger,
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Name identifies the janitor as a background service
func (j *StaleExecutionJanitor) Name() string {
	return "stale execution janitor"
}

// Sweep fails every in-flight record started before the running ceiling
func (j *StaleExecutionJanitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.config.RunningCeiling)
	records, err := j.repo.FindMany(ctx, repository.JobExecutionFilter{
		Statuses:      []jobexec.Status{jobexec.StatusRunning, jobexec.StatusRetrying},
		StartedBefore: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("find stuck executions: %w", err)
	}

	failed := 0
	for _, rec := range records {
		updated, err := j.repo.UpdateByID(ctx, rec.ID, jobexec.Finish(jobexec.StatusFailed, j.now(), staleCeilingMessage))
		if err != nil {
			j.logger.Warn("[%s] failing stuck execution %s: %v", rec.Key, rec.ID, err)
			continue
		}
		if updated == nil {
			continue
		}
		failed++
		j.logger.Warn("[%s] attempt %d running since %s exceeded the %v ceiling, marked failed",
			rec.Key, rec.Attempt, formatStarted(rec), j.config.RunningCeiling)
	}
	return failed, nil
}

// Run sweeps on every interval until ctx is cancelled
func (j *StaleExecutionJanitor) Run(ctx context.Context) error {
	if j.config.SweepInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(j.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := j.Sweep(context.WithoutCancel(ctx)); err != nil {
				j.logger.Warn("stale execution sweep failed: %v", err)
			}
		}
	}
}

func formatStarted(rec *jobexec.Record) string {
	if rec.StartedAt == nil {
		return "unknown"
	}
	return rec.StartedAt.Format(time.RFC3339)
}
