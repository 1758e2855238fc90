package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envOverride binds one QC_* variable to a setting
type envOverride struct {
	key   string
	apply func(settings *RawSettings, value string) error
}

var envOverrides = []envOverride{
	{"QC_HOME", setString(func(s *RawSettings) **string { return &s.Home })},
	{"QC_DB_PATH", setString(func(s *RawSettings) **string { return &s.DBPath })},
	{"QC_WORKFLOWS", func(s *RawSettings, v string) error {
		s.Workflows = splitList(v)
		return nil
	}},
	{"QC_STEP_TIMEOUT", setDuration(func(s *RawSettings) **Duration { return &s.StepTimeout })},
	{"QC_STALE_THRESHOLD", setDuration(func(s *RawSettings) **Duration { return &s.StaleThreshold })},
	{"QC_JANITOR_INTERVAL", setDuration(func(s *RawSettings) **Duration { return &s.JanitorInterval })},
	{"QC_JANITOR_CEILING", setDuration(func(s *RawSettings) **Duration { return &s.JanitorCeiling })},
	{"QC_PAUSE_POLL_INTERVAL", setDuration(func(s *RawSettings) **Duration { return &s.PausePollInterval })},
	{"QC_PROGRESS_PUBLISH_INTERVAL", setDuration(func(s *RawSettings) **Duration { return &s.ProgressPublishInterval })},
	{"QC_MAX_CYCLES", setInt(func(s *RawSettings) **int { return &s.MaxCycles })},
	{"QC_API_RATE", func(s *RawSettings, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		s.APIRate = &f
		return nil
	}},
	{"QC_API_BURST", setInt(func(s *RawSettings) **int { return &s.APIBurst })},
	{"QC_STATUS_SINK", setString(func(s *RawSettings) **string { return &s.StatusSink })},
	{"QC_S3_BUCKET", setString(func(s *RawSettings) **string { return &s.S3Bucket })},
	{"QC_S3_PREFIX", setString(func(s *RawSettings) **string { return &s.S3Prefix })},
	{"QC_S3_REGION", setString(func(s *RawSettings) **string { return &s.S3Region })},
	{"QC_STDERR_LEVEL", setString(func(s *RawSettings) **string { return &s.StderrLevel })},
}

// applyEnv overrides settings from QC_* variables and reports whether any was set
func applyEnv(settings *RawSettings) (bool, error) {
	applied := false
	for _, o := range envOverrides {
		v := strings.TrimSpace(os.Getenv(o.key))
		if v == "" {
			continue
		}
		if err := o.apply(settings, v); err != nil {
			return false, fmt.Errorf("invalid %s=%q: %w", o.key, v, err)
		}
		applied = true
	}
	return applied, nil
}

func setString(field func(*RawSettings) **string) func(*RawSettings, string) error {
	return func(s *RawSettings, v string) error {
		*field(s) = &v
		return nil
	}
}

func setInt(field func(*RawSettings) **int) func(*RawSettings, string) error {
	return func(s *RawSettings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(s) = &n
		return nil
	}
}

func setDuration(field func(*RawSettings) **Duration) func(*RawSettings, string) error {
	return func(s *RawSettings, v string) error {
		d, err := parseDuration(v)
		if err != nil {
			return err
		}
		dur := Duration(d)
		*field(s) = &dur
		return nil
	}
}

// parseDuration accepts Go durations ("90s", "5m") and bare seconds ("90")
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
