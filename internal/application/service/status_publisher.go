package service

import (
	"context"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/quotacycle/internal/app"
	"github.com/YoshitsuguKoike/quotacycle/internal/application/port/output"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

// StatusPublisher pushes cycle snapshots to a status sink, throttled, and
// serves the most recent snapshot to readers.
type StatusPublisher struct {
	sink     output.StatusGateway
	logger   app.Logger
	throttle *Throttle

	mu     sync.RWMutex
	latest map[string]cycle.Snapshot
	dirty  map[string]bool

	sendMu sync.Mutex
}

// NewStatusPublisher creates a publisher. interval bounds how often the sink is written.
func NewStatusPublisher(sink output.StatusGateway, logger app.Logger, interval time.Duration) *StatusPublisher {
	if logger == nil {
		logger = app.NopLogger()
	}
	p := &StatusPublisher{
		sink:   sink,
		logger: logger,
		latest: make(map[string]cycle.Snapshot),
		dirty:  make(map[string]bool),
	}
	p.throttle = NewThrottle(interval, func() { p.push(context.Background()) })
	return p
}

// Publish records snap as the latest state and schedules a sink write
func (p *StatusPublisher) Publish(snap cycle.Snapshot) {
	p.mu.Lock()
	p.latest[snap.Name] = snap
	p.dirty[snap.Name] = true
	p.mu.Unlock()
	p.throttle.Trigger()
}

// PublishNow records snap as the latest state and writes it to the sink
// immediately. Completion markers go through here so a later snapshot cannot
// coalesce them away.
func (p *StatusPublisher) PublishNow(ctx context.Context, snap cycle.Snapshot) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.mu.Lock()
	p.latest[snap.Name] = snap
	delete(p.dirty, snap.Name)
	p.mu.Unlock()

	if p.sink == nil {
		return
	}
	if err := p.sink.Publish(ctx, snap); err != nil {
		p.logger.Warn("[%s] publishing status failed: %v", snap.Name, err)
	}
}

// Flush writes every pending snapshot now
func (p *StatusPublisher) Flush(ctx context.Context) {
	p.push(ctx)
}

// Latest returns the most recent snapshot for the workflow. It falls back to
// the sink, then to the not-initialized default.
func (p *StatusPublisher) Latest(ctx context.Context, name string) (cycle.Snapshot, error) {
	p.mu.RLock()
	snap, ok := p.latest[name]
	p.mu.RUnlock()
	if ok {
		return snap, nil
	}

	if p.sink != nil {
		stored, err := p.sink.Latest(ctx, name)
		if err != nil {
			return cycle.NotInitializedSnapshot(name), err
		}
		if stored != nil {
			return *stored, nil
		}
	}
	return cycle.NotInitializedSnapshot(name), nil
}

// Name identifies the publisher as a background service
func (p *StatusPublisher) Name() string {
	return "status publisher"
}

// Run blocks until ctx is done, then flushes what is left
func (p *StatusPublisher) Run(ctx context.Context) error {
	<-ctx.Done()
	p.Stop(context.WithoutCancel(ctx))
	return nil
}

// Stop cancels pending throttled writes and flushes what is left
func (p *StatusPublisher) Stop(ctx context.Context) {
	p.throttle.Stop()
	p.push(ctx)
}

func (p *StatusPublisher) push(ctx context.Context) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.mu.Lock()
	pending := make([]cycle.Snapshot, 0, len(p.dirty))
	for name := range p.dirty {
		pending = append(pending, p.latest[name])
	}
	p.dirty = make(map[string]bool)
	p.mu.Unlock()

	if p.sink == nil {
		return
	}
	for _, snap := range pending {
		if err := p.sink.Publish(ctx, snap); err != nil {
			p.logger.Warn("[%s] publishing status failed: %v", snap.Name, err)
		}
	}
}
