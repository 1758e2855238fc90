package workflow

import (
	"sync"
	"time"
)

// WorkflowStats tracks supervision statistics for a specific workflow
type WorkflowStats struct {
	Name      string
	Starts    int
	Restarts  int
	Failures  int
	LastStart time.Time
	LastError error
	Uptime    time.Duration
	IsRunning bool
	mutex     sync.RWMutex
}

func (s *WorkflowStats) snapshot() *WorkflowStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return &WorkflowStats{
		Name:      s.Name,
		Starts:    s.Starts,
		Restarts:  s.Restarts,
		Failures:  s.Failures,
		LastStart: s.LastStart,
		LastError: s.LastError,
		Uptime:    s.Uptime,
		IsRunning: s.IsRunning,
	}
}
