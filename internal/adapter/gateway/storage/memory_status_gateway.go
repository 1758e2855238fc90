package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

// MemoryStatusGateway keeps snapshots in memory. It records every publish so
// tests can inspect the sequence of states.
type MemoryStatusGateway struct {
	mu      sync.RWMutex
	latest  map[string]cycle.Snapshot
	history []cycle.Snapshot
}

// NewMemoryStatusGateway creates a new in-memory status gateway
func NewMemoryStatusGateway() *MemoryStatusGateway {
	return &MemoryStatusGateway{
		latest: make(map[string]cycle.Snapshot),
	}
}

func (g *MemoryStatusGateway) Publish(ctx context.Context, snap cycle.Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latest[snap.Name] = snap
	g.history = append(g.history, snap)
	return nil
}

func (g *MemoryStatusGateway) Latest(ctx context.Context, workflowName string) (*cycle.Snapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	snap, ok := g.latest[workflowName]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (g *MemoryStatusGateway) List(ctx context.Context) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.latest))
	for name := range g.latest {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// History returns every published snapshot in order
func (g *MemoryStatusGateway) History() []cycle.Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]cycle.Snapshot(nil), g.history...)
}
