package storage

import "context"

// Storage defines the persistence interface for cycle history.
type Storage interface {
	// SaveCycleRun inserts a completed cycle.
	SaveCycleRun(ctx context.Context, run *CycleRun) error
	// GetCycleRun returns nil, nil when id is unknown.
	GetCycleRun(ctx context.Context, id string) (*CycleRun, error)
	// ListCycleRuns returns the newest runs first.
	ListCycleRuns(ctx context.Context, limit, offset int) (*PaginatedCycleRuns, error)
	// PruneCycleRuns keeps the newest keep runs and deletes the rest.
	PruneCycleRuns(ctx context.Context, keep int) (int64, error)

	// Lifecycle
	Close() error
}
