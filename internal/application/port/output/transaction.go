package output

import (
	"context"
)

// TransactionManager groups repository writes that must land together,
// such as failing a stale attempt and scheduling its replacement.
type TransactionManager interface {
	// InTransaction executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}
