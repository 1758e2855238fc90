package jobexec

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Validate(t *testing.T) {
	assert.NoError(t, Key{WorkflowName: "daily", CycleNumber: 1, StepID: "sync"}.Validate())
	assert.ErrorIs(t, Key{CycleNumber: 1, StepID: "sync"}.Validate(), ErrInvalidKey)
	assert.ErrorIs(t, Key{WorkflowName: "daily", StepID: "sync"}.Validate(), ErrInvalidKey)
	assert.ErrorIs(t, Key{WorkflowName: "daily", CycleNumber: 1, StepID: " "}.Validate(), ErrInvalidKey)
	assert.Equal(t, "daily#3/sync", Key{WorkflowName: "daily", CycleNumber: 3, StepID: "sync"}.String())
}

func TestNewRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key := Key{WorkflowName: "daily", CycleNumber: 2, StepID: "sync"}

	rec, err := NewRecord(key, "Sync", 0, now)
	require.NoError(t, err)
	assert.Len(t, rec.ID, 26)
	assert.Equal(t, 1, rec.Attempt, "attempt is at least 1")
	assert.Equal(t, StatusScheduled, rec.Status)
	assert.Equal(t, now, rec.ScheduledAt)
	assert.Nil(t, rec.StartedAt)
	assert.Equal(t, "daily", rec.Metadata.CycleName)
	assert.Equal(t, 2, rec.Metadata.CycleNumber)
	assert.Equal(t, "sync", rec.Metadata.StepID)
	assert.NotNil(t, rec.Logs)

	_, err = NewRecord(Key{WorkflowName: "daily"}, "x", 1, now)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestGenerateID_Unique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateID(now)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestRecord_IsStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tenMinutesAgo := now.Add(-10 * time.Minute)
	oneMinuteAgo := now.Add(-time.Minute)

	tests := []struct {
		name    string
		status  Status
		started *time.Time
		want    bool
	}{
		{"running old", StatusRunning, &tenMinutesAgo, true},
		{"retrying old", StatusRetrying, &tenMinutesAgo, true},
		{"running fresh", StatusRunning, &oneMinuteAgo, false},
		{"running without start", StatusRunning, nil, false},
		{"failed old", StatusFailed, &tenMinutesAgo, false},
		{"completed old", StatusCompleted, &tenMinutesAgo, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Record{Status: tt.status, StartedAt: tt.started}
			assert.Equal(t, tt.want, rec.IsStale(now, 5*time.Minute))
		})
	}
}

func TestRecord_CloneIsDeep(t *testing.T) {
	started := time.Now()
	rec := &Record{
		ID:        "a",
		StartedAt: &started,
		Result:    json.RawMessage(`{"n":1}`),
		Logs:      []LogEntry{{Message: "start"}},
	}
	c := rec.Clone()
	c.Logs[0].Message = "changed"
	c.Result[2] = 'x'
	*c.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "start", rec.Logs[0].Message)
	assert.Equal(t, `{"n":1}`, string(rec.Result))
	assert.Equal(t, started, *rec.StartedAt)
	assert.Nil(t, (*Record)(nil).Clone())
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0.0, ClampProgress(-0.5))
	assert.Equal(t, 0.42, ClampProgress(0.42))
	assert.Equal(t, 1.0, ClampProgress(3))
	assert.Equal(t, 0.0, ClampProgress(math.NaN()))
	assert.Equal(t, 1.0, ClampProgress(math.Inf(1)))
}

func TestAppendCapped(t *testing.T) {
	var logs []LogEntry
	for i := 0; i < 5; i++ {
		logs = AppendCapped(logs, LogEntry{Message: fmt.Sprintf("m%d", i)}, 3)
	}
	require.Len(t, logs, 3)
	assert.Equal(t, "m2", logs[0].Message)
	assert.Equal(t, "m4", logs[2].Message)

	unbounded := AppendCapped(nil, LogEntry{Message: "x"}, 0)
	assert.Len(t, unbounded, 1)
}

func TestLatestByStep(t *testing.T) {
	key := Key{WorkflowName: "daily", CycleNumber: 1, StepID: "report"}
	records := []*Record{
		{ID: "r2", Key: key, Attempt: 2, Status: StatusScheduled},
		{ID: "r1", Key: key, Attempt: 1, Status: StatusFailed},
		{ID: "s1", Key: Key{WorkflowName: "daily", CycleNumber: 1, StepID: "sync"}, Attempt: 1, Status: StatusCompleted},
		nil,
	}

	latest := LatestByStep(records)
	require.Len(t, latest, 2)
	assert.Equal(t, "r2", latest["report"].ID)
	assert.Equal(t, "s1", latest["sync"].ID)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, LogLevelError, ParseLogLevel(" error "))
	assert.Equal(t, LogLevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("whatever"))
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range AllStatuses {
		assert.True(t, s.IsValid(), s.String())
	}
	assert.False(t, Status("paused").IsValid())

	assert.True(t, StatusSkipped.IsDone())
	assert.True(t, StatusCompleted.IsDone())
	assert.False(t, StatusFailed.IsDone())
	assert.False(t, StatusCancelled.IsDone())

	assert.True(t, StatusFailed.IsExhausted())
	assert.False(t, StatusCancelled.IsExhausted())

	assert.True(t, StatusCancelled.IsRetryable())
	assert.True(t, StatusFailed.IsRetryable())
	assert.False(t, StatusRunning.IsRetryable())

	assert.True(t, StatusRetrying.IsInFlight())
	assert.False(t, StatusScheduled.IsInFlight())
}

func TestRecordUpdate_Apply(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ended := now.Add(-time.Minute)
	rec := &Record{Status: StatusFailed, Progress: 0.42, Error: "boom", EndedAt: &ended, Result: json.RawMessage(`1`)}

	retrying := StatusRetrying
	RecordUpdate{Status: &retrying, StartedAt: &now, ClearOutcome: true}.Apply(rec, now)

	assert.Equal(t, StatusRetrying, rec.Status)
	assert.Equal(t, 0.42, rec.Progress, "progress is preserved")
	assert.Empty(t, rec.Error)
	assert.Nil(t, rec.EndedAt)
	assert.Nil(t, rec.Result)
	assert.Equal(t, now, rec.UpdatedAt)

	SetProgress(7).Apply(rec, now)
	assert.Equal(t, 1.0, rec.Progress)

	Finish(StatusFailed, now, "again").Apply(rec, now)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "again", rec.Error)
	require.NotNil(t, rec.EndedAt)

	assert.True(t, RecordUpdate{}.IsEmpty())
	assert.False(t, SetStatus(StatusRunning).IsEmpty())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "quota_pause", OutcomeQuotaPause.String())
	assert.True(t, OutcomeFailure.Advances())
	assert.True(t, OutcomeAlreadyDone.Advances())
	assert.False(t, OutcomeQuotaPause.Advances())
	assert.False(t, OutcomeInterrupted.Advances())
}
