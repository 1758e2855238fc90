package transaction

import (
	"context"
	"sync"
)

// MockTransactionManager runs fn directly and records what happened.
// Used where repositories have no real transaction support, such as in-memory mocks.
type MockTransactionManager struct {
	mu        sync.Mutex
	calls     int
	rollbacks int
}

// NewMockTransactionManager creates a new mock transaction manager
func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

// InTransaction executes fn with the same context. An error counts as a rollback.
func (m *MockTransactionManager) InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	err := fn(ctx)
	if err != nil {
		m.mu.Lock()
		m.rollbacks++
		m.mu.Unlock()
	}
	return err
}

// Calls returns how many times InTransaction was called
func (m *MockTransactionManager) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Rollbacks returns how many InTransaction calls returned an error
func (m *MockTransactionManager) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks
}
