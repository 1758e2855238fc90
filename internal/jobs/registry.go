package jobs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/YoshitsuguKoike/quotacycle/internal/application/port/output"
)

// Registry binds step IDs to job functions
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]output.JobFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]output.JobFunc)}
}

// Register binds fn to stepID. A step can only be bound once.
func (r *Registry) Register(stepID string, fn output.JobFunc) error {
	if fn == nil {
		return fmt.Errorf("job for step %s is nil", stepID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[stepID]; exists {
		return fmt.Errorf("job for step %s already registered", stepID)
	}
	r.jobs[stepID] = fn
	return nil
}

// RegisterCommands binds a CommandJob to every step in cmds
func (r *Registry) RegisterCommands(cmds map[string][]string, queue output.APIQueue, config CommandConfig) error {
	ids := make([]string, 0, len(cmds))
	for id := range cmds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := r.Register(id, CommandJob(cmds[id], queue, config)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Resolve(stepID string) (output.JobFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.jobs[stepID]
	return fn, ok
}

// Missing returns the step IDs that have no bound job, in the given order
func (r *Registry) Missing(stepIDs []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, id := range stepIDs {
		if _, ok := r.jobs[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
