package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
	"github.com/YoshitsuguKoike/quotacycle/internal/infrastructure/repository/mock"
)

func fourSteps() cycle.Workflow {
	return cycle.Workflow{
		Name: "daily",
		Steps: []cycle.Step{
			{StepID: "a"}, {StepID: "b"}, {StepID: "c"}, {StepID: "d"},
		},
	}
}

func seedCycleRecord(t *testing.T, repo *mock.MockJobExecutionRepository, cycleNumber int, stepID string, status jobexec.Status) {
	t.Helper()
	rec, err := jobexec.NewRecord(jobexec.Key{WorkflowName: "daily", CycleNumber: cycleNumber, StepID: stepID}, stepID, 1, time.Now().UTC())
	require.NoError(t, err)
	rec.Status = status
	repo.Put(rec)
}

func TestRecoveryController_FreshStart(t *testing.T) {
	stateRepo := mock.NewMockCycleStateRepository()
	rc := NewRecoveryController(stateRepo, mock.NewMockJobExecutionRepository(), nil, nil, 5*time.Minute)

	plan, err := rc.Recover(context.Background(), dailyWorkflow())
	require.NoError(t, err)

	assert.Equal(t, RecoveryFresh, plan.Action)
	assert.Equal(t, 0, plan.StartIndex)
	assert.Equal(t, 1, plan.State.CurrentCycle)
	assert.Equal(t, 3, plan.State.TotalSteps)

	stored, err := stateRepo.FindByName(context.Background(), "daily")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestRecoveryController_InvalidWorkflow(t *testing.T) {
	rc := NewRecoveryController(mock.NewMockCycleStateRepository(), mock.NewMockJobExecutionRepository(), nil, nil, time.Minute)
	_, err := rc.Recover(context.Background(), cycle.Workflow{Name: "empty"})
	assert.ErrorIs(t, err, cycle.ErrInvalidWorkflow)
}

func TestRecoveryController_ResumeIndexIsFirstUnfinishedStep(t *testing.T) {
	tests := []struct {
		statuses []jobexec.Status
		want     int
	}{
		{nil, 0},
		{[]jobexec.Status{jobexec.StatusCompleted}, 1},
		{[]jobexec.Status{jobexec.StatusCompleted, jobexec.StatusSkipped}, 2},
		{[]jobexec.Status{jobexec.StatusSkipped, jobexec.StatusSkipped, jobexec.StatusCompleted}, 3},
		{[]jobexec.Status{jobexec.StatusCompleted, jobexec.StatusFailed, jobexec.StatusCompleted}, 1},
		{[]jobexec.Status{jobexec.StatusCompleted, jobexec.StatusCancelled}, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.statuses), func(t *testing.T) {
			w := fourSteps()
			stateRepo := mock.NewMockCycleStateRepository()
			jobRepo := mock.NewMockJobExecutionRepository()
			st := cycle.NewState(w, time.Now().UTC())
			st.CurrentCycle = 4
			st.TotalCycles = 3
			// A stale index left by a crash must not matter
			st.CurrentStepIndex = 0
			stateRepo.Put(st)
			for i, status := range tt.statuses {
				seedCycleRecord(t, jobRepo, 4, w.Steps[i].StepID, status)
			}
			// Records of other cycles are ignored
			seedCycleRecord(t, jobRepo, 3, "a", jobexec.StatusCompleted)
			seedCycleRecord(t, jobRepo, 3, "b", jobexec.StatusCompleted)

			rc := NewRecoveryController(stateRepo, jobRepo, nil, nil, 5*time.Minute)
			plan, err := rc.Recover(context.Background(), w)
			require.NoError(t, err)

			assert.Equal(t, RecoveryResume, plan.Action)
			assert.Equal(t, tt.want, plan.StartIndex)
			assert.Equal(t, tt.want, plan.State.CurrentStepIndex)
			assert.Equal(t, 4, plan.State.CurrentCycle)
			require.NotNil(t, plan.State.CurrentStep)
			assert.Equal(t, w.Steps[tt.want].StepID, plan.State.CurrentStep.StepID)
			assert.False(t, plan.State.IsRunning)
		})
	}
}

func TestRecoveryController_ExhaustedCycleAdvances(t *testing.T) {
	w := fourSteps()
	stateRepo := mock.NewMockCycleStateRepository()
	jobRepo := mock.NewMockJobExecutionRepository()
	st := cycle.NewState(w, time.Now().UTC())
	st.CurrentCycle = 2
	st.TotalCycles = 1
	st.CurrentStepIndex = 3
	stateRepo.Put(st)
	seedCycleRecord(t, jobRepo, 2, "a", jobexec.StatusCompleted)
	seedCycleRecord(t, jobRepo, 2, "b", jobexec.StatusFailed)
	seedCycleRecord(t, jobRepo, 2, "c", jobexec.StatusSkipped)
	seedCycleRecord(t, jobRepo, 2, "d", jobexec.StatusCompleted)

	rc := NewRecoveryController(stateRepo, jobRepo, nil, nil, 5*time.Minute)
	plan, err := rc.Recover(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, RecoveryNextCycle, plan.Action)
	assert.Equal(t, 0, plan.StartIndex)
	assert.Equal(t, 3, plan.State.CurrentCycle)
	assert.Equal(t, 2, plan.State.TotalCycles)
	assert.Equal(t, 0, plan.State.CurrentStepIndex)
	assert.Equal(t, 0.0, plan.State.Progress)
}

func TestRecoveryController_PausedStaysPaused(t *testing.T) {
	w := dailyWorkflow()
	stateRepo := mock.NewMockCycleStateRepository()
	next := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	st := cycle.NewState(w, time.Now().UTC())
	st.IsPaused = true
	st.IsRunning = true
	st.PauseReason = "API quota exhausted during Report"
	st.NextCycleScheduled = &next
	st.CurrentStepIndex = 2
	stateRepo.Put(st)

	rc := NewRecoveryController(stateRepo, mock.NewMockJobExecutionRepository(), nil, nil, 5*time.Minute)
	plan, err := rc.Recover(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, RecoveryStayPaused, plan.Action)
	assert.Equal(t, 2, plan.StartIndex)
	assert.True(t, plan.State.IsPaused)
	assert.False(t, plan.State.IsRunning)
	assert.Equal(t, st.PauseReason, plan.State.PauseReason)
	require.NotNil(t, plan.State.NextCycleScheduled)
	assert.True(t, next.Equal(*plan.State.NextCycleScheduled))
	assert.Equal(t, "report", plan.State.CurrentStep.StepID)
}

func TestRecoveryController_OutOfRangeIndexResets(t *testing.T) {
	w := dailyWorkflow()
	stateRepo := mock.NewMockCycleStateRepository()
	st := cycle.NewState(w, time.Now().UTC())
	st.IsPaused = true
	st.CurrentStepIndex = 9
	stateRepo.Put(st)
	logger := &recordingLogger{}

	rc := NewRecoveryController(stateRepo, mock.NewMockJobExecutionRepository(), nil, logger, 5*time.Minute)
	plan, err := rc.Recover(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, 0, plan.State.CurrentStepIndex)
	assert.True(t, logger.contains("out of range"))
}

func TestRecoveryController_WorkflowDefinitionWins(t *testing.T) {
	w := dailyWorkflow()
	stateRepo := mock.NewMockCycleStateRepository()
	st := cycle.NewState(w, time.Now().UTC())
	st.TotalSteps = 7
	st.MaxCycles = cycle.Ptr(5)
	st.CurrentCycle = 0
	stateRepo.Put(st)

	rc := NewRecoveryController(stateRepo, mock.NewMockJobExecutionRepository(), nil, nil, 5*time.Minute)
	plan, err := rc.Recover(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, 3, plan.State.TotalSteps)
	assert.Nil(t, plan.State.MaxCycles)
	assert.Equal(t, 1, plan.State.CurrentCycle)
}

func TestRecoveryController_RecordLoadFailureRestartsCycleAtZero(t *testing.T) {
	w := dailyWorkflow()
	stateRepo := mock.NewMockCycleStateRepository()
	jobRepo := mock.NewMockJobExecutionRepository()
	st := cycle.NewState(w, time.Now().UTC())
	st.CurrentStepIndex = 2
	stateRepo.Put(st)
	jobRepo.FailFind(true)

	rc := NewRecoveryController(stateRepo, jobRepo, nil, nil, 5*time.Minute)
	plan, err := rc.Recover(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 0, plan.StartIndex)
}

func TestRecoveryController_StateUpdateFailure(t *testing.T) {
	stateRepo := mock.NewMockCycleStateRepository()
	stateRepo.Put(cycle.NewState(dailyWorkflow(), time.Now().UTC()))
	stateRepo.FailUpdates(true)

	rc := NewRecoveryController(stateRepo, mock.NewMockJobExecutionRepository(), nil, nil, 5*time.Minute)
	_, err := rc.Recover(context.Background(), dailyWorkflow())
	assert.ErrorIs(t, err, mock.ErrInjected)
}
