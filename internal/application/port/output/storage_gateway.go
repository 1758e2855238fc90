package output

import (
	"context"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

// StatusGateway is the sink for cycle status snapshots.
// Supports local filesystem, S3 and in-memory storage.
type StatusGateway interface {
	// Publish stores the snapshot as the latest status of its workflow
	Publish(ctx context.Context, snapshot cycle.Snapshot) error

	// Latest returns the most recent snapshot for the workflow, or nil if none was published
	Latest(ctx context.Context, workflowName string) (*cycle.Snapshot, error)

	// List returns the names of every workflow with a published snapshot
	List(ctx context.Context) ([]string, error)
}
