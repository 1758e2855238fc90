package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mattn/go-sqlite3"
)

// SQLiteTransactionManager manages SQLite transactions. Repositories pick the
// transaction up from the context via GetTxFromContext.
//
// The run loop and operator commands (pause, resume) may write the same
// database from different processes, so a transaction that cannot start or
// commit because the database is locked is retried from scratch.
type SQLiteTransactionManager struct {
	db         *sql.DB
	maxRetries int
	wait       time.Duration
}

// Option configures a SQLiteTransactionManager
type Option func(*SQLiteTransactionManager)

// WithBusyRetry sets how often a locked transaction is retried and the initial wait between tries
func WithBusyRetry(maxRetries int, wait time.Duration) Option {
	return func(m *SQLiteTransactionManager) {
		m.maxRetries = maxRetries
		m.wait = wait
	}
}

// NewSQLiteTransactionManager creates a new SQLite transaction manager
func NewSQLiteTransactionManager(db *sql.DB, opts ...Option) *SQLiteTransactionManager {
	m := &SQLiteTransactionManager{
		db:         db,
		maxRetries: 3,
		wait:       50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InTransaction executes fn within a transaction. A context that already
// carries a transaction joins it instead of opening a nested one.
func (m *SQLiteTransactionManager) InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := GetTxFromContext(ctx); ok {
		return fn(ctx)
	}

	var lastErr error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		lastErr = m.runOnce(ctx, fn)
		if lastErr != nil && !IsBusy(lastErr) {
			return struct{}{}, backoff.Permanent(lastErr)
		}
		return struct{}{}, lastErr
	}, backoff.WithBackOff(m.newBackOff()), backoff.WithMaxTries(uint(m.maxRetries+1)))

	if err != nil && ctx.Err() != nil && IsBusy(lastErr) {
		return fmt.Errorf("%w (gave up waiting for lock: %v)", lastErr, ctx.Err())
	}
	return err
}

func (m *SQLiteTransactionManager) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.wait
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

func (m *SQLiteTransactionManager) runOnce(ctx context.Context, fn func(txCtx context.Context) error) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

type txKey struct{}

// GetTxFromContext retrieves a transaction from context
func GetTxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// IsBusy reports whether err comes from a locked or busy SQLite database
func IsBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}
