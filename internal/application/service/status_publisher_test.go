package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/quotacycle/internal/adapter/gateway/storage"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

type failingSink struct {
	storage.MemoryStatusGateway
}

func (f *failingSink) Publish(ctx context.Context, snap cycle.Snapshot) error {
	return errors.New("bucket unreachable")
}

func TestStatusPublisher_PublishWritesSink(t *testing.T) {
	sink := storage.NewMemoryStatusGateway()
	pub := NewStatusPublisher(sink, nil, 0)

	pub.Publish(cycle.Snapshot{Name: "daily", State: cycle.RunStateRunning, Progress: 40})

	stored, err := sink.Latest(context.Background(), "daily")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 40.0, stored.Progress)
}

func TestStatusPublisher_ThrottledWritesKeepLatest(t *testing.T) {
	sink := storage.NewMemoryStatusGateway()
	pub := NewStatusPublisher(sink, nil, time.Hour)
	defer pub.Stop(context.Background())

	pub.Publish(cycle.Snapshot{Name: "daily", Progress: 10})
	pub.Publish(cycle.Snapshot{Name: "daily", Progress: 20})
	pub.Publish(cycle.Snapshot{Name: "daily", Progress: 30})

	require.Len(t, sink.History(), 1)

	latest, err := pub.Latest(context.Background(), "daily")
	require.NoError(t, err)
	assert.Equal(t, 30.0, latest.Progress, "readers see the newest snapshot immediately")

	pub.Flush(context.Background())
	history := sink.History()
	require.Len(t, history, 2)
	assert.Equal(t, 30.0, history[1].Progress)
}

func TestStatusPublisher_StopFlushesPending(t *testing.T) {
	sink := storage.NewMemoryStatusGateway()
	pub := NewStatusPublisher(sink, nil, time.Hour)

	pub.Publish(cycle.Snapshot{Name: "daily", Progress: 10})
	pub.Publish(cycle.Snapshot{Name: "daily", Progress: 90})
	pub.Stop(context.Background())

	stored, err := sink.Latest(context.Background(), "daily")
	require.NoError(t, err)
	assert.Equal(t, 90.0, stored.Progress)
}

func TestStatusPublisher_LatestFallsBack(t *testing.T) {
	sink := storage.NewMemoryStatusGateway()
	require.NoError(t, sink.Publish(context.Background(), cycle.Snapshot{Name: "weekly", State: cycle.RunStatePaused}))
	pub := NewStatusPublisher(sink, nil, 0)

	fromSink, err := pub.Latest(context.Background(), "weekly")
	require.NoError(t, err)
	assert.Equal(t, cycle.RunStatePaused, fromSink.State)

	missing, err := pub.Latest(context.Background(), "monthly")
	require.NoError(t, err)
	assert.Equal(t, cycle.RunStateNotInitialized, missing.State)

	noSink := NewStatusPublisher(nil, nil, 0)
	snap, err := noSink.Latest(context.Background(), "daily")
	require.NoError(t, err)
	assert.Equal(t, cycle.RunStateNotInitialized, snap.State)
}

func TestStatusPublisher_SinkFailureIsLogged(t *testing.T) {
	logger := &recordingLogger{}
	pub := NewStatusPublisher(&failingSink{}, logger, 0)

	pub.Publish(cycle.Snapshot{Name: "daily"})
	assert.True(t, logger.contains("publishing status failed"))
}

func TestStatusPublisher_PublishNowBypassesThrottle(t *testing.T) {
	sink := storage.NewMemoryStatusGateway()
	pub := NewStatusPublisher(sink, nil, time.Hour)
	defer pub.Stop(context.Background())

	pub.Publish(cycle.Snapshot{Name: "daily", CurrentCycle: 1, Progress: 10})
	pub.Publish(cycle.Snapshot{Name: "daily", CurrentCycle: 1, Progress: 90})
	pub.PublishNow(context.Background(), cycle.Snapshot{Name: "daily", State: cycle.RunStateCompleted, CurrentCycle: 1, Progress: 100})
	pub.Publish(cycle.Snapshot{Name: "daily", State: cycle.RunStateRunning, CurrentCycle: 2})
	pub.Flush(context.Background())

	history := sink.History()
	require.Len(t, history, 3)
	assert.Equal(t, 10.0, history[0].Progress)
	assert.Equal(t, cycle.RunStateCompleted, history[1].State)
	assert.Equal(t, 1, history[1].CurrentCycle)
	assert.Equal(t, 2, history[2].CurrentCycle)
}
