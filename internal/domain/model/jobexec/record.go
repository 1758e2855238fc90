package jobexec

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// MaxLogEntries bounds the persisted log list of a single record
const MaxLogEntries = 50

var (
	// ErrRecordNotFound is returned when an update targets a missing record
	ErrRecordNotFound = errors.New("job execution record not found")
	// ErrInvalidKey is returned when a composite key is incomplete
	ErrInvalidKey = errors.New("invalid job execution key")
	// ErrDuplicateRecord is returned when the same attempt of a key is created twice
	ErrDuplicateRecord = errors.New("job execution record already exists")
)

// Key is the composite key identifying a step execution within a cycle
type Key struct {
	WorkflowName string
	CycleNumber  int
	StepID       string
}

// Validate checks that all key components are present
func (k Key) Validate() error {
	if strings.TrimSpace(k.WorkflowName) == "" {
		return fmt.Errorf("%w: workflow name is empty", ErrInvalidKey)
	}
	if k.CycleNumber < 1 {
		return fmt.Errorf("%w: cycle number must be positive, got %d", ErrInvalidKey, k.CycleNumber)
	}
	if strings.TrimSpace(k.StepID) == "" {
		return fmt.Errorf("%w: step id is empty", ErrInvalidKey)
	}
	return nil
}

// String returns a human-readable form of the key
func (k Key) String() string {
	return fmt.Sprintf("%s#%d/%s", k.WorkflowName, k.CycleNumber, k.StepID)
}

// LogLevel is the severity attached to a job log line
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLogLevel converts free-form level names, defaulting to info
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LogEntry is one persisted log line of a job execution
type LogEntry struct {
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata carries denormalized context about the execution
type Metadata struct {
	CycleName     string `json:"cycleName"`
	CycleNumber   int    `json:"cycleNumber"`
	StepID        string `json:"stepId"`
	StepIndex     int    `json:"stepIndex"`
	ParallelGroup string `json:"parallelGroup,omitempty"`
	SkipReason    string `json:"skipReason,omitempty"`
}

// Record is the durable record of one attempt of one step within one cycle
type Record struct {
	ID          string
	Key         Key
	Attempt     int
	StepName    string
	Status      Status
	ScheduledAt time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	Progress    float64
	Result      json.RawMessage
	Error       string
	Logs        []LogEntry
	Metadata    Metadata
	UpdatedAt   time.Time
}

// NewRecord creates a scheduled record for the given key
func NewRecord(key Key, stepName string, attempt int, now time.Time) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if attempt < 1 {
		attempt = 1
	}
	return &Record{
		ID:          GenerateID(now),
		Key:         key,
		Attempt:     attempt,
		StepName:    stepName,
		Status:      StatusScheduled,
		ScheduledAt: now,
		Logs:        []LogEntry{},
		Metadata: Metadata{
			CycleName:   key.WorkflowName,
			CycleNumber: key.CycleNumber,
			StepID:      key.StepID,
		},
		UpdatedAt: now,
	}, nil
}

// GenerateID generates a new record ID using ULID
func GenerateID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// IsStale reports whether an in-flight record started longer ago than threshold
func (r *Record) IsStale(now time.Time, threshold time.Duration) bool {
	if !r.Status.IsInFlight() || r.StartedAt == nil {
		return false
	}
	return now.Sub(*r.StartedAt) > threshold
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	if r.Result != nil {
		c.Result = append(json.RawMessage(nil), r.Result...)
	}
	c.Logs = append([]LogEntry{}, r.Logs...)
	return &c
}

// ClampProgress bounds a job-reported fraction to [0,1]
func ClampProgress(fraction float64) float64 {
	if fraction != fraction { // NaN
		return 0
	}
	if fraction < 0 {
		return 0
	}
	if fraction > 1 {
		return 1
	}
	return fraction
}

// AppendCapped appends entry and drops the oldest entries beyond max
func AppendCapped(logs []LogEntry, entry LogEntry, max int) []LogEntry {
	logs = append(logs, entry)
	if max > 0 && len(logs) > max {
		logs = append([]LogEntry{}, logs[len(logs)-max:]...)
	}
	return logs
}

// LatestByStep indexes records by step ID, keeping the highest attempt per step
func LatestByStep(records []*Record) map[string]*Record {
	latest := make(map[string]*Record, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if cur, ok := latest[rec.Key.StepID]; !ok || rec.Attempt > cur.Attempt {
			latest[rec.Key.StepID] = rec
		}
	}
	return latest
}
