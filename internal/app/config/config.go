package config

import "time"

// Config provides read-only access to application configuration.
// This interface abstracts the configuration source (JSON, ENV, defaults)
// and ensures the app layer doesn't depend on infrastructure details.
type Config interface {
	// Core settings
	Home() string        // Base directory for state and status files (QC_HOME)
	DBPath() string      // SQLite database path (QC_DB_PATH)
	Workflows() []string // Workflow definition files

	// Execution timing
	StepTimeout() time.Duration             // Per-step timeout (QC_STEP_TIMEOUT)
	StaleThreshold() time.Duration          // Resume-time staleness threshold (QC_STALE_THRESHOLD)
	JanitorInterval() time.Duration         // Janitor sweep interval (QC_JANITOR_INTERVAL)
	JanitorCeiling() time.Duration          // Absolute running ceiling (QC_JANITOR_CEILING)
	PausePollInterval() time.Duration       // Continue-condition polling (QC_PAUSE_POLL_INTERVAL)
	ProgressPublishInterval() time.Duration // Progress recompute throttle (QC_PROGRESS_PUBLISH_INTERVAL)
	MaxCycles() int                         // Overrides every workflow's max cycles when positive (QC_MAX_CYCLES)

	// Provider API queue
	APIRate() float64   // Requests per second, 0 for unlimited (QC_API_RATE)
	APIBurst() int      // Token bucket burst (QC_API_BURST)
	QuotaExitCode() int // Exit code command jobs use to signal quota exhaustion

	// Status sink
	StatusSink() string // "file", "s3" or "memory" (QC_STATUS_SINK)
	S3Bucket() string   // (QC_S3_BUCKET)
	S3Prefix() string   // (QC_S3_PREFIX)
	S3Region() string   // (QC_S3_REGION)

	// Supervision
	RestartBackoff() time.Duration
	MaxRestarts() int
	HeartbeatInterval() time.Duration

	// Logging
	StderrLevel() string // Stderr log level (QC_STDERR_LEVEL)

	// Metadata
	ConfigSource() string // Source of configuration: "json", "env", or "default"
	SettingPath() string  // Path to setting.json if loaded from file
}

// AppConfig is the concrete implementation of Config interface.
// It holds all configuration values loaded from various sources.
type AppConfig struct {
	home      string
	dbPath    string
	workflows []string

	stepTimeout             time.Duration
	staleThreshold          time.Duration
	janitorInterval         time.Duration
	janitorCeiling          time.Duration
	pausePollInterval       time.Duration
	progressPublishInterval time.Duration
	maxCycles               int

	apiRate       float64
	apiBurst      int
	quotaExitCode int

	statusSink string
	s3Bucket   string
	s3Prefix   string
	s3Region   string

	restartBackoff    time.Duration
	maxRestarts       int
	heartbeatInterval time.Duration

	stderrLevel string

	configSource string
	settingPath  string
}

func (c *AppConfig) Home() string   { return c.home }
func (c *AppConfig) DBPath() string { return c.dbPath }

// Workflows returns a copy of the workflow definition paths
func (c *AppConfig) Workflows() []string {
	return append([]string(nil), c.workflows...)
}

func (c *AppConfig) StepTimeout() time.Duration             { return c.stepTimeout }
func (c *AppConfig) StaleThreshold() time.Duration          { return c.staleThreshold }
func (c *AppConfig) JanitorInterval() time.Duration         { return c.janitorInterval }
func (c *AppConfig) JanitorCeiling() time.Duration          { return c.janitorCeiling }
func (c *AppConfig) PausePollInterval() time.Duration       { return c.pausePollInterval }
func (c *AppConfig) ProgressPublishInterval() time.Duration { return c.progressPublishInterval }
func (c *AppConfig) MaxCycles() int                         { return c.maxCycles }

func (c *AppConfig) APIRate() float64   { return c.apiRate }
func (c *AppConfig) APIBurst() int      { return c.apiBurst }
func (c *AppConfig) QuotaExitCode() int { return c.quotaExitCode }

func (c *AppConfig) StatusSink() string { return c.statusSink }
func (c *AppConfig) S3Bucket() string   { return c.s3Bucket }
func (c *AppConfig) S3Prefix() string   { return c.s3Prefix }
func (c *AppConfig) S3Region() string   { return c.s3Region }

func (c *AppConfig) RestartBackoff() time.Duration    { return c.restartBackoff }
func (c *AppConfig) MaxRestarts() int                 { return c.maxRestarts }
func (c *AppConfig) HeartbeatInterval() time.Duration { return c.heartbeatInterval }

func (c *AppConfig) StderrLevel() string { return c.stderrLevel }

// ConfigSource returns the source of configuration
func (c *AppConfig) ConfigSource() string { return c.configSource }

// SettingPath returns the path to setting.json if loaded from file
func (c *AppConfig) SettingPath() string { return c.settingPath }

// Values carries every field of an AppConfig. The infrastructure layer fills
// it after merging setting.json, environment and defaults.
type Values struct {
	Home      string
	DBPath    string
	Workflows []string

	StepTimeout             time.Duration
	StaleThreshold          time.Duration
	JanitorInterval         time.Duration
	JanitorCeiling          time.Duration
	PausePollInterval       time.Duration
	ProgressPublishInterval time.Duration
	MaxCycles               int

	APIRate       float64
	APIBurst      int
	QuotaExitCode int

	StatusSink string
	S3Bucket   string
	S3Prefix   string
	S3Region   string

	RestartBackoff    time.Duration
	MaxRestarts       int
	HeartbeatInterval time.Duration

	StderrLevel string

	ConfigSource string
	SettingPath  string
}

// NewAppConfig creates a new AppConfig with the given values.
// This is typically called by the infrastructure layer after loading and merging configurations.
func NewAppConfig(v Values) *AppConfig {
	return &AppConfig{
		home:                    v.Home,
		dbPath:                  v.DBPath,
		workflows:               append([]string(nil), v.Workflows...),
		stepTimeout:             v.StepTimeout,
		staleThreshold:          v.StaleThreshold,
		janitorInterval:         v.JanitorInterval,
		janitorCeiling:          v.JanitorCeiling,
		pausePollInterval:       v.PausePollInterval,
		progressPublishInterval: v.ProgressPublishInterval,
		maxCycles:               v.MaxCycles,
		apiRate:                 v.APIRate,
		apiBurst:                v.APIBurst,
		quotaExitCode:           v.QuotaExitCode,
		statusSink:              v.StatusSink,
		s3Bucket:                v.S3Bucket,
		s3Prefix:                v.S3Prefix,
		s3Region:                v.S3Region,
		restartBackoff:          v.RestartBackoff,
		maxRestarts:             v.MaxRestarts,
		heartbeatInterval:       v.HeartbeatInterval,
		stderrLevel:             v.StderrLevel,
		configSource:            v.ConfigSource,
		settingPath:             v.SettingPath,
	}
}
