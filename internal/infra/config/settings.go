package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/quotacycle/internal/app/config"
)

// Duration is a time.Duration written as "30m" in setting.json
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var secs int64
		if err2 := json.Unmarshal(data, &secs); err2 != nil {
			return fmt.Errorf("duration must be a string like \"30m\": %w", err)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// RawSettings represents the structure of setting.json file.
// JSON tags are used for marshaling/unmarshaling.
type RawSettings struct {
	// Core settings
	Home      *string  `json:"home"`
	DBPath    *string  `json:"db_path"`
	Workflows []string `json:"workflows"`

	// Execution timing
	StepTimeout             *Duration `json:"step_timeout"`
	StaleThreshold          *Duration `json:"stale_threshold"`
	JanitorInterval         *Duration `json:"janitor_interval"`
	JanitorCeiling          *Duration `json:"janitor_ceiling"`
	PausePollInterval       *Duration `json:"pause_poll_interval"`
	ProgressPublishInterval *Duration `json:"progress_publish_interval"`
	MaxCycles               *int      `json:"max_cycles"`

	// Provider API queue
	APIRate       *float64 `json:"api_rate"`
	APIBurst      *int     `json:"api_burst"`
	QuotaExitCode *int     `json:"quota_exit_code"`

	// Status sink
	StatusSink *string `json:"status_sink"`
	S3Bucket   *string `json:"s3_bucket"`
	S3Prefix   *string `json:"s3_prefix"`
	S3Region   *string `json:"s3_region"`

	// Supervision
	RestartBackoff    *Duration `json:"restart_backoff"`
	MaxRestarts       *int      `json:"max_restarts"`
	HeartbeatInterval *Duration `json:"heartbeat_interval"`

	// Logging
	StderrLevel *string `json:"stderr_level"`
}

var validSinks = map[string]struct{}{"file": {}, "s3": {}, "memory": {}}

// LoadSettings loads configuration from the OS filesystem.
// Priority: environment > setting.json > defaults
func LoadSettings(baseDir string) (*config.AppConfig, error) {
	return LoadSettingsFs(afero.NewOsFs(), baseDir)
}

// LoadSettingsFs loads baseDir/setting.json from fsys, then applies environment overrides and defaults
func LoadSettingsFs(fsys afero.Fs, baseDir string) (*config.AppConfig, error) {
	settings := &RawSettings{}
	configSource := "default"
	settingPath := ""

	jsonPath := filepath.Join(baseDir, "setting.json")
	data, err := afero.ReadFile(fsys, jsonPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", jsonPath, err)
		}
		configSource = "json"
		settingPath = jsonPath
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s: %w", jsonPath, err)
	}

	applied, err := applyEnv(settings)
	if err != nil {
		return nil, err
	}
	if applied && configSource == "default" {
		configSource = "env"
	}

	applyDefaults(settings, baseDir)

	if err := validate(settings); err != nil {
		return nil, err
	}
	return buildAppConfig(settings, configSource, settingPath), nil
}

// applyDefaults fills in default values for any nil fields
func applyDefaults(settings *RawSettings, baseDir string) {
	if settings.Home == nil {
		v := baseDir
		if v == "" {
			v = ".quotacycle"
		}
		settings.Home = &v
	}
	if settings.DBPath == nil {
		v := filepath.Join(*settings.Home, "quotacycle.db")
		settings.DBPath = &v
	}

	durationDefault(&settings.StepTimeout, 30*time.Minute)
	durationDefault(&settings.StaleThreshold, 5*time.Minute)
	durationDefault(&settings.JanitorInterval, 15*time.Minute)
	durationDefault(&settings.JanitorCeiling, 6*time.Hour)
	durationDefault(&settings.PausePollInterval, time.Minute)
	durationDefault(&settings.ProgressPublishInterval, 5*time.Second)
	if settings.MaxCycles == nil {
		v := 0 // keep each workflow's own value
		settings.MaxCycles = &v
	}

	if settings.APIRate == nil {
		v := 0.0
		settings.APIRate = &v
	}
	if settings.APIBurst == nil {
		v := 1
		settings.APIBurst = &v
	}
	if settings.QuotaExitCode == nil {
		v := 75
		settings.QuotaExitCode = &v
	}

	if settings.StatusSink == nil {
		v := "file"
		settings.StatusSink = &v
	}
	for _, p := range []**string{&settings.S3Bucket, &settings.S3Prefix, &settings.S3Region} {
		if *p == nil {
			v := ""
			*p = &v
		}
	}

	durationDefault(&settings.RestartBackoff, 5*time.Second)
	if settings.MaxRestarts == nil {
		v := 0
		settings.MaxRestarts = &v
	}
	durationDefault(&settings.HeartbeatInterval, 5*time.Minute)

	if settings.StderrLevel == nil {
		v := "info"
		settings.StderrLevel = &v
	}
}

func durationDefault(field **Duration, def time.Duration) {
	if *field == nil {
		v := Duration(def)
		*field = &v
	}
}

func validate(settings *RawSettings) error {
	sink := strings.ToLower(*settings.StatusSink)
	if _, ok := validSinks[sink]; !ok {
		return fmt.Errorf("status_sink must be file, s3 or memory, got %q", *settings.StatusSink)
	}
	*settings.StatusSink = sink
	if sink == "s3" && *settings.S3Bucket == "" {
		return errors.New("status_sink s3 requires s3_bucket")
	}
	if *settings.APIRate < 0 {
		return fmt.Errorf("api_rate must not be negative, got %v", *settings.APIRate)
	}
	if *settings.MaxCycles < 0 {
		return fmt.Errorf("max_cycles must not be negative, got %d", *settings.MaxCycles)
	}
	if *settings.StaleThreshold <= 0 {
		return errors.New("stale_threshold must be positive")
	}
	if *settings.JanitorInterval > 0 {
		ceiling := time.Duration(*settings.JanitorCeiling)
		timeout := time.Duration(*settings.StepTimeout)
		if ceiling <= 0 {
			return errors.New("janitor_ceiling must be positive while the janitor is enabled")
		}
		if timeout > 0 && ceiling <= timeout {
			return fmt.Errorf("janitor_ceiling (%v) must exceed step_timeout (%v)", ceiling, timeout)
		}
	}
	return nil
}

// buildAppConfig converts RawSettings to AppConfig
func buildAppConfig(settings *RawSettings, configSource, settingPath string) *config.AppConfig {
	return config.NewAppConfig(config.Values{
		Home:                    *settings.Home,
		DBPath:                  *settings.DBPath,
		Workflows:               settings.Workflows,
		StepTimeout:             time.Duration(*settings.StepTimeout),
		StaleThreshold:          time.Duration(*settings.StaleThreshold),
		JanitorInterval:         time.Duration(*settings.JanitorInterval),
		JanitorCeiling:          time.Duration(*settings.JanitorCeiling),
		PausePollInterval:       time.Duration(*settings.PausePollInterval),
		ProgressPublishInterval: time.Duration(*settings.ProgressPublishInterval),
		MaxCycles:               *settings.MaxCycles,
		APIRate:                 *settings.APIRate,
		APIBurst:                *settings.APIBurst,
		QuotaExitCode:           *settings.QuotaExitCode,
		StatusSink:              *settings.StatusSink,
		S3Bucket:                *settings.S3Bucket,
		S3Prefix:                *settings.S3Prefix,
		S3Region:                *settings.S3Region,
		RestartBackoff:          time.Duration(*settings.RestartBackoff),
		MaxRestarts:             *settings.MaxRestarts,
		HeartbeatInterval:       time.Duration(*settings.HeartbeatInterval),
		StderrLevel:             *settings.StderrLevel,
		ConfigSource:            configSource,
		SettingPath:             settingPath,
	})
}

// CreateDefaultSettings creates a default setting.json content
func CreateDefaultSettings() []byte {
	settings := &RawSettings{Workflows: []string{"workflows/daily.yaml"}}
	applyDefaults(settings, ".quotacycle")

	data, _ := json.MarshalIndent(settings, "", "  ")
	return data
}
