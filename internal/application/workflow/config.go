package workflow

import "time"

// WorkflowConfig holds supervision settings for a specific workflow
type WorkflowConfig struct {
	Name              string        `yaml:"name"`
	Enabled           bool          `yaml:"enabled"`
	RestartBackoff    time.Duration `yaml:"restart_backoff"`    // Base delay before restarting a failed runner
	MaxBackoff        time.Duration `yaml:"max_backoff"`        // Upper bound of the exponential backoff
	MaxRestarts       int           `yaml:"max_restarts"`       // 0 restarts forever
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // 0 disables heartbeat logging
}

// DefaultWorkflowConfig returns default supervision settings
func DefaultWorkflowConfig(name string) WorkflowConfig {
	return WorkflowConfig{
		Name:              name,
		Enabled:           true,
		RestartBackoff:    5 * time.Second,
		MaxBackoff:        5 * time.Minute,
		HeartbeatInterval: 5 * time.Minute,
	}
}
