package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

const cycleStateColumns = `name, current_cycle, total_cycles, max_cycles, is_running, is_paused, manual_pause,
	pause_reason, stop_reason, current_step_index, total_steps, completed_steps, failed_steps, progress,
	current_step, next_step, next_cycle_scheduled, pause_conditions, continue_conditions, created_at, updated_at`

// CycleStateRepositoryImpl implements repository.CycleStateRepository with SQLite
type CycleStateRepositoryImpl struct {
	db  *sql.DB
	now func() time.Time
}

// NewCycleStateRepository creates a new SQLite-based cycle state repository
func NewCycleStateRepository(db *sql.DB) *CycleStateRepositoryImpl {
	return &CycleStateRepositoryImpl{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// getDB returns the appropriate database executor from context
func (r *CycleStateRepositoryImpl) getDB(ctx context.Context) dbExecutor {
	return executorFor(ctx, r.db)
}

// FindByName returns the state of the named workflow, or nil
func (r *CycleStateRepositoryImpl) FindByName(ctx context.Context, name string) (*cycle.State, error) {
	query := `SELECT ` + cycleStateColumns + ` FROM cycle_states WHERE name = ?`

	st, err := scanCycleState(r.getDB(ctx).QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find cycle state %s: %w", name, err)
	}
	return st, nil
}

// Create inserts a new state
func (r *CycleStateRepositoryImpl) Create(ctx context.Context, st *cycle.State) error {
	currentStep, err := marshalStepInfo(st.CurrentStep)
	if err != nil {
		return err
	}
	nextStep, err := marshalStepInfo(st.NextStep)
	if err != nil {
		return err
	}
	pauseConds, err := marshalLabels(st.PauseConditions)
	if err != nil {
		return err
	}
	continueConds, err := marshalLabels(st.ContinueConditions)
	if err != nil {
		return err
	}

	now := r.now()
	createdAt, updatedAt := st.CreatedAt, st.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}

	var maxCycles sql.NullInt64
	if st.MaxCycles != nil {
		maxCycles = sql.NullInt64{Int64: int64(*st.MaxCycles), Valid: true}
	}

	query := `INSERT INTO cycle_states (` + cycleStateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.getDB(ctx).ExecContext(ctx, query,
		st.Name,
		st.CurrentCycle,
		st.TotalCycles,
		maxCycles,
		boolToInt(st.IsRunning),
		boolToInt(st.IsPaused),
		boolToInt(st.ManualPause),
		st.PauseReason,
		st.StopReason,
		st.CurrentStepIndex,
		st.TotalSteps,
		st.CompletedSteps,
		st.FailedSteps,
		cycle.ClampPercent(st.Progress),
		currentStep,
		nextStep,
		formatNullTime(st.NextCycleScheduled),
		pauseConds,
		continueConds,
		formatTime(createdAt),
		formatTime(updatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", cycle.ErrStateExists, st.Name)
		}
		return fmt.Errorf("insert cycle state: %w", err)
	}
	return nil
}

// UpdateFields writes only the columns named by update and returns the row as written
func (r *CycleStateRepositoryImpl) UpdateFields(ctx context.Context, name string, u cycle.StateUpdate) (*cycle.State, error) {
	var set setClause
	if u.CurrentCycle != nil {
		set.add("current_cycle", *u.CurrentCycle)
	}
	if u.TotalCycles != nil {
		set.add("total_cycles", *u.TotalCycles)
	}
	if u.MaxCycles != nil {
		set.add("max_cycles", *u.MaxCycles)
	} else if u.ClearMaxCycles {
		set.addExpr("max_cycles = NULL")
	}
	if u.IsRunning != nil {
		set.add("is_running", boolToInt(*u.IsRunning))
	}
	if u.IsPaused != nil {
		set.add("is_paused", boolToInt(*u.IsPaused))
	}
	if u.ManualPause != nil {
		set.add("manual_pause", boolToInt(*u.ManualPause))
	}
	if u.PauseReason != nil {
		set.add("pause_reason", *u.PauseReason)
	}
	if u.StopReason != nil {
		set.add("stop_reason", *u.StopReason)
	}
	if u.CurrentStepIndex != nil {
		set.add("current_step_index", *u.CurrentStepIndex)
	}
	if u.TotalSteps != nil {
		set.add("total_steps", *u.TotalSteps)
	}
	if u.CompletedSteps != nil {
		set.add("completed_steps", *u.CompletedSteps)
	}
	if u.FailedSteps != nil {
		set.add("failed_steps", *u.FailedSteps)
	}
	if u.Progress != nil {
		set.add("progress", cycle.ClampPercent(*u.Progress))
	}
	if u.NextCycleScheduled != nil {
		set.add("next_cycle_scheduled", formatTime(*u.NextCycleScheduled))
	} else if u.ClearNextCycle {
		set.addExpr("next_cycle_scheduled = NULL")
	}
	if u.PauseConditions != nil {
		labels, err := marshalLabels(u.PauseConditions)
		if err != nil {
			return nil, err
		}
		set.add("pause_conditions", labels)
	}
	if u.ContinueConditions != nil {
		labels, err := marshalLabels(u.ContinueConditions)
		if err != nil {
			return nil, err
		}
		set.add("continue_conditions", labels)
	}
	if u.SetSteps {
		currentStep, err := marshalStepInfo(u.CurrentStep)
		if err != nil {
			return nil, err
		}
		nextStep, err := marshalStepInfo(u.NextStep)
		if err != nil {
			return nil, err
		}
		set.add("current_step", currentStep)
		set.add("next_step", nextStep)
	}
	set.add("updated_at", formatTime(r.now()))

	query := `UPDATE cycle_states SET ` + set.String() + ` WHERE name = ? RETURNING ` + cycleStateColumns
	args := append(set.args, name)

	st, err := scanCycleState(r.getDB(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update cycle state %s: %w", name, err)
	}
	return st, nil
}

func scanCycleState(row rowScanner) (*cycle.State, error) {
	var (
		st                          cycle.State
		maxCycles                   sql.NullInt64
		isRunning, isPaused, manual int
		currentStep, nextStep       sql.NullString
		nextCycle                   sql.NullString
		pauseConds, continueConds   string
		createdAt, updatedAt        string
	)
	err := row.Scan(
		&st.Name,
		&st.CurrentCycle,
		&st.TotalCycles,
		&maxCycles,
		&isRunning,
		&isPaused,
		&manual,
		&st.PauseReason,
		&st.StopReason,
		&st.CurrentStepIndex,
		&st.TotalSteps,
		&st.CompletedSteps,
		&st.FailedSteps,
		&st.Progress,
		&currentStep,
		&nextStep,
		&nextCycle,
		&pauseConds,
		&continueConds,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if maxCycles.Valid {
		v := int(maxCycles.Int64)
		st.MaxCycles = &v
	}
	st.IsRunning = isRunning != 0
	st.IsPaused = isPaused != 0
	st.ManualPause = manual != 0

	if st.CurrentStep, err = unmarshalStepInfo(currentStep); err != nil {
		return nil, err
	}
	if st.NextStep, err = unmarshalStepInfo(nextStep); err != nil {
		return nil, err
	}
	if st.NextCycleScheduled, err = parseNullTime(nextCycle); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(pauseConds), &st.PauseConditions); err != nil {
		return nil, fmt.Errorf("unmarshal pause conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(continueConds), &st.ContinueConditions); err != nil {
		return nil, fmt.Errorf("unmarshal continue conditions: %w", err)
	}
	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

func marshalStepInfo(info *cycle.StepInfo) (sql.NullString, error) {
	if info == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal step info: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalStepInfo(ns sql.NullString) (*cycle.StepInfo, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var info cycle.StepInfo
	if err := json.Unmarshal([]byte(ns.String), &info); err != nil {
		return nil, fmt.Errorf("unmarshal step info: %w", err)
	}
	return &info, nil
}

func marshalLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("marshal condition labels: %w", err)
	}
	return string(data), nil
}
