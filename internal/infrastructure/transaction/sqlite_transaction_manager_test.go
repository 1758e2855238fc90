package transaction

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE items (name TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func countItems(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func insert(ctx context.Context, name string) error {
	tx, ok := GetTxFromContext(ctx)
	if !ok {
		return errors.New("no transaction in context")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, name)
	return err
}

func TestSQLiteTransactionManager_Commit(t *testing.T) {
	db := setupDB(t)
	txm := NewSQLiteTransactionManager(db)

	err := txm.InTransaction(context.Background(), func(txCtx context.Context) error {
		if err := insert(txCtx, "a"); err != nil {
			return err
		}
		return insert(txCtx, "b")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, countItems(t, db))
}

func TestSQLiteTransactionManager_RollbackOnError(t *testing.T) {
	db := setupDB(t)
	txm := NewSQLiteTransactionManager(db)
	boom := errors.New("boom")

	err := txm.InTransaction(context.Background(), func(txCtx context.Context) error {
		require.NoError(t, insert(txCtx, "a"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countItems(t, db))
}

func TestSQLiteTransactionManager_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)
	txm := NewSQLiteTransactionManager(db)

	assert.Panics(t, func() {
		_ = txm.InTransaction(context.Background(), func(txCtx context.Context) error {
			require.NoError(t, insert(txCtx, "a"))
			panic("job blew up")
		})
	})
	assert.Equal(t, 0, countItems(t, db))
}

func TestSQLiteTransactionManager_NestedJoinsOuter(t *testing.T) {
	db := setupDB(t)
	txm := NewSQLiteTransactionManager(db)
	boom := errors.New("boom")

	err := txm.InTransaction(context.Background(), func(outer context.Context) error {
		require.NoError(t, txm.InTransaction(outer, func(inner context.Context) error {
			return insert(inner, "inner")
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countItems(t, db), "inner write rolls back with the outer transaction")
}

func TestSQLiteTransactionManager_RetriesBusy(t *testing.T) {
	db := setupDB(t)
	txm := NewSQLiteTransactionManager(db, WithBusyRetry(2, time.Millisecond))
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}

	calls := 0
	err := txm.InTransaction(context.Background(), func(txCtx context.Context) error {
		calls++
		if calls < 3 {
			return busy
		}
		return insert(txCtx, "a")
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, countItems(t, db))
}

func TestSQLiteTransactionManager_GivesUpOnBusy(t *testing.T) {
	db := setupDB(t)
	txm := NewSQLiteTransactionManager(db, WithBusyRetry(1, time.Millisecond))

	calls := 0
	err := txm.InTransaction(context.Background(), func(context.Context) error {
		calls++
		return sqlite3.Error{Code: sqlite3.ErrLocked}
	})
	assert.True(t, IsBusy(err))
	assert.Equal(t, 2, calls)
}

func TestSQLiteTransactionManager_NoRetryForOtherErrors(t *testing.T) {
	db := setupDB(t)
	txm := NewSQLiteTransactionManager(db)

	calls := 0
	err := txm.InTransaction(context.Background(), func(context.Context) error {
		calls++
		return errors.New("constraint")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsBusy(nil))
}

func TestSQLiteTransactionManager_CancelledWhileBusy(t *testing.T) {
	db := setupDB(t)
	txm := NewSQLiteTransactionManager(db, WithBusyRetry(10, 50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := txm.InTransaction(ctx, func(context.Context) error {
		calls++
		cancel()
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	})
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.ErrorContains(t, err, "gave up waiting for lock")
	assert.Equal(t, 1, calls)
}

func TestMockTransactionManager(t *testing.T) {
	txm := NewMockTransactionManager()

	require.NoError(t, txm.InTransaction(context.Background(), func(context.Context) error { return nil }))
	assert.Error(t, txm.InTransaction(context.Background(), func(context.Context) error { return errors.New("x") }))

	assert.Equal(t, 2, txm.Calls())
	assert.Equal(t, 1, txm.Rollbacks())
}
