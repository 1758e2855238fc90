package jobs

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
	domainservice "github.com/YoshitsuguKoike/quotacycle/internal/domain/service"
)

type logLine struct {
	message string
	level   jobexec.LogLevel
}

type recordingJobContext struct {
	mu       sync.Mutex
	progress []float64
	logs     []logLine
}

func (r *recordingJobContext) Progress(fraction float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, fraction)
}

func (r *recordingJobContext) AppendLog(message string, level jobexec.LogLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, logLine{message: message, level: level})
}

func (r *recordingJobContext) messages(level jobexec.LogLevel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.logs {
		if l.level == level {
			out = append(out, l.message)
		}
	}
	return out
}

type passthroughQueue struct {
	calls int
}

func (q *passthroughQueue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	q.calls++
	return fn(ctx)
}

func (q *passthroughQueue) CancelAll() int { return 0 }

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("command jobs are exercised with /bin/sh")
	}
}

func sh(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func TestCommandJob_Success(t *testing.T) {
	requireShell(t)
	queue := &passthroughQueue{}
	jc := &recordingJobContext{}

	job := CommandJob(sh(`echo fetching; echo "progress 0.5"; echo "slow page" >&2; echo "PROGRESS 1"`), queue, DefaultCommandConfig())
	result, err := job(context.Background(), jc)
	require.NoError(t, err)

	assert.Equal(t, 1, queue.calls)
	assert.Equal(t, []float64{0.5, 1}, jc.progress)
	assert.Contains(t, jc.messages(jobexec.LogLevelInfo), "fetching")
	assert.Contains(t, jc.messages(jobexec.LogLevelInfo), "/bin/sh completed")
	assert.Equal(t, []string{"slow page"}, jc.messages(jobexec.LogLevelWarn))

	res, ok := result.(*CommandResult)
	require.True(t, ok)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 3, res.OutputLines)
}

func TestCommandJob_FailureCarriesStderrTail(t *testing.T) {
	requireShell(t)
	config := DefaultCommandConfig()
	config.StderrTail = 2

	job := CommandJob(sh(`echo one >&2; echo two >&2; echo three >&2; exit 3`), nil, config)
	_, err := job(context.Background(), &recordingJobContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Contains(t, err.Error(), "two\nthree")
	assert.NotContains(t, err.Error(), "one")
}

func TestCommandJob_QuotaExitIsQuotaSignal(t *testing.T) {
	requireShell(t)
	job := CommandJob(sh(`echo "daily limit" >&2; exit 75`), nil, DefaultCommandConfig())
	_, err := job(context.Background(), &recordingJobContext{})

	var quotaErr *QuotaExitError
	require.ErrorAs(t, err, &quotaErr)
	assert.True(t, domainservice.NewQuotaClassifier().IsQuotaSignal(err))
}

func TestCommandJob_QuotaExitDisabled(t *testing.T) {
	requireShell(t)
	config := DefaultCommandConfig()
	config.QuotaExitCode = 0

	job := CommandJob(sh(`exit 75`), nil, config)
	_, err := job(context.Background(), &recordingJobContext{})
	require.Error(t, err)
	assert.False(t, domainservice.NewQuotaClassifier().IsQuotaSignal(err))
}

func TestCommandJob_EnvAndDir(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	config := DefaultCommandConfig()
	config.Dir = dir
	config.Env = []string{"QC_STEP=sync"}
	jc := &recordingJobContext{}

	_, err := CommandJob(sh(`echo "$QC_STEP"; pwd`), nil, config)(context.Background(), jc)
	require.NoError(t, err)
	info := jc.messages(jobexec.LogLevelInfo)
	assert.Contains(t, info, "sync")
	assert.Contains(t, info, dir)
}

func TestCommandJob_Cancelled(t *testing.T) {
	requireShell(t)
	config := DefaultCommandConfig()
	config.WaitDelay = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := CommandJob(sh(`sleep 5`), nil, config)(ctx, &recordingJobContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCommandJob_StartFailure(t *testing.T) {
	_, err := CommandJob([]string{"/nonexistent/quotacycle-job"}, nil, DefaultCommandConfig())(context.Background(), &recordingJobContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start /nonexistent/quotacycle-job")
}

func TestCommandJob_NoProgram(t *testing.T) {
	_, err := CommandJob(nil, nil, DefaultCommandConfig())(context.Background(), &recordingJobContext{})
	assert.EqualError(t, err, "command job has no program")
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"progress 0.25", 0.25, true},
		{"Progress 1", 1, true},
		{"progress   0.5  ", 0.5, true},
		{"progress", 0, false},
		{"progress half", 0, false},
		{"progress 0.5 done", 0, false},
		{"downloaded 10 rows", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseProgress(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLineTail(t *testing.T) {
	tail := newLineTail(2)
	tail.add("a")
	assert.Equal(t, "a", tail.String())
	tail.add("b")
	tail.add("c")
	assert.Equal(t, "b\nc", tail.String())
}
