package output

import "context"

// APIQueue is the shared rate-limited queue all provider calls go through
type APIQueue interface {
	// Do waits for a rate-limit slot and runs fn with a cancellable context
	Do(ctx context.Context, fn func(ctx context.Context) error) error

	// CancelAll cancels every queued and in-flight call, returning how many were cancelled
	CancelAll() int
}
