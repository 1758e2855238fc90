package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/YoshitsuguKoike/quotacycle/internal/application/port/output"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeJobs is a JobResolver backed by a map
type fakeJobs struct {
	mu    sync.Mutex
	jobs  map[string]output.JobFunc
	calls map[string]int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		jobs:  make(map[string]output.JobFunc),
		calls: make(map[string]int),
	}
}

func (f *fakeJobs) set(stepID string, fn output.JobFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[stepID] = fn
}

func (f *fakeJobs) succeed(stepIDs ...string) {
	for _, id := range stepIDs {
		f.set(id, func(ctx context.Context, jc output.JobContext) (any, error) {
			return nil, nil
		})
	}
}

func (f *fakeJobs) Resolve(stepID string) (output.JobFunc, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.jobs[stepID]
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, jc output.JobContext) (any, error) {
		f.mu.Lock()
		f.calls[stepID]++
		f.mu.Unlock()
		return fn(ctx, jc)
	}, true
}

func (f *fakeJobs) callCount(stepID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stepID]
}

// recordingLogger keeps every formatted line
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+": "+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debug(format string, args ...interface{}) {
	l.record("DEBUG", format, args...)
}

func (l *recordingLogger) Info(format string, args ...interface{}) {
	l.record("INFO", format, args...)
}

func (l *recordingLogger) Warn(format string, args ...interface{}) {
	l.record("WARN", format, args...)
}

func (l *recordingLogger) Error(format string, args ...interface{}) {
	l.record("ERROR", format, args...)
}

func (l *recordingLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// testClock is a settable clock
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// countingQueue is an APIQueue that runs calls inline and counts CancelAll
type countingQueue struct {
	mu        sync.Mutex
	cancelled int
}

func (q *countingQueue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (q *countingQueue) CancelAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled++
	return 0
}

func (q *countingQueue) cancelAllCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled
}

func dailyWorkflow() cycle.Workflow {
	return cycle.Workflow{
		Name: "daily",
		Steps: []cycle.Step{
			{StepID: "sync", Name: "Sync"},
			{StepID: "analyze", Name: "Analyze", Skipped: true},
			{StepID: "report", Name: "Report"},
		},
	}
}
