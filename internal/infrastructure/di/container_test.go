package di

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagegateway "github.com/YoshitsuguKoike/quotacycle/internal/adapter/gateway/storage"
	appconfig "github.com/YoshitsuguKoike/quotacycle/internal/app/config"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/repository"
)

func testValues(home string) appconfig.Values {
	return appconfig.Values{
		Home:                    home,
		DBPath:                  filepath.Join(home, "quotacycle.db"),
		StepTimeout:             10 * time.Second,
		StaleThreshold:          time.Minute,
		JanitorInterval:         time.Hour,
		JanitorCeiling:          6 * time.Hour,
		PausePollInterval:       10 * time.Millisecond,
		ProgressPublishInterval: 0,
		APIBurst:                1,
		QuotaExitCode:           75,
		StatusSink:              "memory",
		RestartBackoff:          10 * time.Millisecond,
		MaxRestarts:             1,
		StderrLevel:             "warn",
	}
}

func writeWorkflow(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestContainer_RunsWorkflowToMaxCycles(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("workflow commands use /bin/sh")
	}
	home := t.TempDir()
	writeWorkflow(t, filepath.Join(home, "workflows"), "daily.yaml", `name: daily
max_cycles: 2
steps:
  - id: sync
    command: ["/bin/sh", "-c", "echo syncing; echo progress 1"]
  - id: analyze
    skip: true
  - id: report
    command: ["/bin/sh", "-c", "echo report for {workflow} done"]
`)

	sink := storagegateway.NewMemoryStatusGateway()
	container, err := NewContainer(context.Background(), Config{
		App:           appconfig.NewAppConfig(testValues(home)),
		StatusGateway: sink,
	})
	require.NoError(t, err)
	defer container.Close()

	defs, err := container.LoadDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.NoError(t, container.RegisterWorkflow(defs[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, container.Run(ctx))

	st, err := container.GetStateRepository().FindByName(context.Background(), "daily")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 2, st.TotalCycles)
	assert.Equal(t, "max cycles reached", st.StopReason)
	assert.Equal(t, cycle.RunStateStopped, st.RunState())

	records, err := container.GetJobExecutionRepository().FindMany(context.Background(), repository.JobExecutionFilter{
		WorkflowName: "daily",
		CycleNumber:  1,
	})
	require.NoError(t, err)
	statuses := map[string]jobexec.Status{}
	for _, rec := range records {
		statuses[rec.Key.StepID] = rec.Status
	}
	assert.Equal(t, map[string]jobexec.Status{
		"sync":    jobexec.StatusCompleted,
		"analyze": jobexec.StatusSkipped,
		"report":  jobexec.StatusCompleted,
	}, statuses)

	snap, err := sink.Latest(context.Background(), "daily")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, cycle.RunStateStopped, snap.State)
}

func TestContainer_MaxCyclesOverride(t *testing.T) {
	home := t.TempDir()
	values := testValues(home)
	values.MaxCycles = 5
	values.Workflows = []string{"custom/weekly.yaml"}
	writeWorkflow(t, filepath.Join(home, "custom"), "weekly.yaml", "name: weekly\nmax_cycles: 1\nsteps:\n  - id: report\n")

	container, err := NewContainer(context.Background(), Config{App: appconfig.NewAppConfig(values)})
	require.NoError(t, err)
	defer container.Close()

	defs, err := container.LoadDefinitions()
	require.NoError(t, err)
	require.NoError(t, container.RegisterWorkflow(defs[0]))

	assert.Equal(t, []string{"weekly"}, container.GetManager().GetWorkflowNames())
	engine, ok := container.GetEngine("weekly")
	require.True(t, ok)
	assert.NotNil(t, engine)

	registry, ok := container.GetRegistry("weekly")
	require.True(t, ok)
	assert.Equal(t, []string{"report"}, registry.Missing([]string{"report"}))

	err = container.RegisterWorkflow(defs[0])
	assert.Error(t, err, "a workflow can only be registered once")
}

func TestContainer_NoWorkflowFiles(t *testing.T) {
	container, err := NewContainer(context.Background(), Config{App: appconfig.NewAppConfig(testValues(t.TempDir()))})
	require.NoError(t, err)
	defer container.Close()

	_, err = container.LoadDefinitions()
	assert.ErrorContains(t, err, "no workflow files")
}

func TestContainer_InvalidWorkflowFile(t *testing.T) {
	home := t.TempDir()
	writeWorkflow(t, filepath.Join(home, "workflows"), "bad.yaml", "name: bad\nsteps: []\n")

	container, err := NewContainer(context.Background(), Config{App: appconfig.NewAppConfig(testValues(home))})
	require.NoError(t, err)
	defer container.Close()

	_, err = container.LoadDefinitions()
	assert.ErrorContains(t, err, `"steps" must be a non-empty array`)
}

func TestContainer_StatusSinks(t *testing.T) {
	home := t.TempDir()

	values := testValues(home)
	values.StatusSink = "file"
	container, err := NewContainer(context.Background(), Config{App: appconfig.NewAppConfig(values)})
	require.NoError(t, err)
	assert.IsType(t, &storagegateway.LocalStatusGateway{}, container.GetStatusGateway())
	require.NoError(t, container.Close())

	values.StatusSink = "memory"
	container, err = NewContainer(context.Background(), Config{App: appconfig.NewAppConfig(values)})
	require.NoError(t, err)
	assert.IsType(t, &storagegateway.MemoryStatusGateway{}, container.GetStatusGateway())
	require.NoError(t, container.Close())

	values.StatusSink = "s3"
	values.S3Bucket = ""
	_, err = NewContainer(context.Background(), Config{App: appconfig.NewAppConfig(values)})
	assert.ErrorContains(t, err, "bucket name is required")
}

func TestContainer_RequiresConfig(t *testing.T) {
	_, err := NewContainer(context.Background(), Config{})
	assert.Error(t, err)
}
