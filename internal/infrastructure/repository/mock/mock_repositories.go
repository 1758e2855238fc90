package mock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/jobexec"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/repository"
)

// ErrInjected is returned by mock repositories when a failure is injected
var ErrInjected = errors.New("injected repository failure")

// MockJobExecutionRepository is an in-memory JobExecutionRepository
type MockJobExecutionRepository struct {
	mu      sync.RWMutex
	records map[string]*jobexec.Record
	order   []string

	failCreate  bool
	failUpdates bool
	failFind    bool

	createCalls int
	updateCalls int
	statuses    map[string][]jobexec.Status
}

// NewMockJobExecutionRepository creates a new mock job execution repository
func NewMockJobExecutionRepository() *MockJobExecutionRepository {
	return &MockJobExecutionRepository{
		records:  make(map[string]*jobexec.Record),
		statuses: make(map[string][]jobexec.Status),
	}
}

// FailCreate makes every Create call fail
func (m *MockJobExecutionRepository) FailCreate(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreate = fail
}

// FailUpdates makes every UpdateByID and AppendLog call fail
func (m *MockJobExecutionRepository) FailUpdates(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpdates = fail
}

// FailFind makes every FindOne and FindMany call fail
func (m *MockJobExecutionRepository) FailFind(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFind = fail
}

// Put stores rec as-is, bypassing validation. Used to seed test fixtures.
func (m *MockJobExecutionRepository) Put(rec *jobexec.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.ID]; !exists {
		m.order = append(m.order, rec.ID)
	}
	m.records[rec.ID] = rec.Clone()
}

func (m *MockJobExecutionRepository) FindOne(ctx context.Context, key jobexec.Key) (*jobexec.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failFind {
		return nil, ErrInjected
	}

	var latest *jobexec.Record
	for _, rec := range m.records {
		if rec.Key != key {
			continue
		}
		if latest == nil || rec.Attempt > latest.Attempt {
			latest = rec
		}
	}
	return latest.Clone(), nil
}

func (m *MockJobExecutionRepository) FindMany(ctx context.Context, filter repository.JobExecutionFilter) ([]*jobexec.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failFind {
		return nil, ErrInjected
	}

	var result []*jobexec.Record
	for _, id := range m.order {
		rec := m.records[id]
		if matches(rec, filter) {
			result = append(result, rec.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Key.WorkflowName != b.Key.WorkflowName {
			return a.Key.WorkflowName < b.Key.WorkflowName
		}
		if a.Key.CycleNumber != b.Key.CycleNumber {
			return a.Key.CycleNumber < b.Key.CycleNumber
		}
		if a.Key.StepID != b.Key.StepID {
			return a.Key.StepID < b.Key.StepID
		}
		return a.Attempt < b.Attempt
	})
	return result, nil
}

func matches(rec *jobexec.Record, f repository.JobExecutionFilter) bool {
	if f.WorkflowName != "" && rec.Key.WorkflowName != f.WorkflowName {
		return false
	}
	if f.CycleNumber > 0 && rec.Key.CycleNumber != f.CycleNumber {
		return false
	}
	if f.StepID != "" && rec.Key.StepID != f.StepID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if rec.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartedBefore != nil {
		if rec.StartedAt == nil || !rec.StartedAt.Before(*f.StartedBefore) {
			return false
		}
	}
	return true
}

func (m *MockJobExecutionRepository) Create(ctx context.Context, rec *jobexec.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.failCreate {
		return ErrInjected
	}
	if err := rec.Key.Validate(); err != nil {
		return err
	}
	for _, existing := range m.records {
		if existing.Key == rec.Key && existing.Attempt == rec.Attempt {
			return fmt.Errorf("%w: %s attempt %d", jobexec.ErrDuplicateRecord, rec.Key, rec.Attempt)
		}
	}
	m.order = append(m.order, rec.ID)
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *MockJobExecutionRepository) UpdateByID(ctx context.Context, id string, update jobexec.RecordUpdate) (*jobexec.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.failUpdates {
		return nil, ErrInjected
	}
	rec, exists := m.records[id]
	if !exists {
		return nil, nil
	}
	if update.Status != nil && !update.Status.IsValid() {
		return nil, fmt.Errorf("invalid status %q", *update.Status)
	}
	if update.Status != nil {
		m.statuses[id] = append(m.statuses[id], *update.Status)
	}
	update.Apply(rec, time.Now().UTC())
	return rec.Clone(), nil
}

func (m *MockJobExecutionRepository) AppendLog(ctx context.Context, id string, entry jobexec.LogEntry, maxEntries int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdates {
		return ErrInjected
	}
	rec, exists := m.records[id]
	if !exists {
		return fmt.Errorf("append log to %s: %w", id, jobexec.ErrRecordNotFound)
	}
	rec.Logs = jobexec.AppendCapped(rec.Logs, entry, maxEntries)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// All returns a copy of every stored record in insertion order
func (m *MockJobExecutionRepository) All() []*jobexec.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*jobexec.Record, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.records[id].Clone())
	}
	return result
}

// CreateCalls returns how many times Create was called
func (m *MockJobExecutionRepository) CreateCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createCalls
}

// UpdateCalls returns how many times UpdateByID was called
func (m *MockJobExecutionRepository) UpdateCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updateCalls
}

// StatusHistory returns every status written to id through UpdateByID, in order
func (m *MockJobExecutionRepository) StatusHistory(id string) []jobexec.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]jobexec.Status(nil), m.statuses[id]...)
}

// MockCycleStateRepository is an in-memory CycleStateRepository
type MockCycleStateRepository struct {
	mu          sync.RWMutex
	states      map[string]*cycle.State
	failUpdates bool
	updateCalls int
}

// NewMockCycleStateRepository creates a new mock cycle state repository
func NewMockCycleStateRepository() *MockCycleStateRepository {
	return &MockCycleStateRepository{
		states: make(map[string]*cycle.State),
	}
}

// FailUpdates makes every UpdateFields call fail
func (m *MockCycleStateRepository) FailUpdates(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpdates = fail
}

// Put stores st as-is. Used to seed test fixtures.
func (m *MockCycleStateRepository) Put(st *cycle.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.Name] = st.Clone()
}

func (m *MockCycleStateRepository) FindByName(ctx context.Context, name string) (*cycle.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[name].Clone(), nil
}

func (m *MockCycleStateRepository) Create(ctx context.Context, st *cycle.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.states[st.Name]; exists {
		return fmt.Errorf("%w: %s", cycle.ErrStateExists, st.Name)
	}
	m.states[st.Name] = st.Clone()
	return nil
}

func (m *MockCycleStateRepository) UpdateFields(ctx context.Context, name string, update cycle.StateUpdate) (*cycle.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.failUpdates {
		return nil, ErrInjected
	}
	st, exists := m.states[name]
	if !exists {
		return nil, nil
	}
	update.Apply(st, time.Now().UTC())
	return st.Clone(), nil
}

// UpdateCalls returns how many times UpdateFields was called
func (m *MockCycleStateRepository) UpdateCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updateCalls
}
