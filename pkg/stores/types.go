package stores

import (
	"context"
	"errors"

	"github.com/openfroyo/boxctl/pkg/engine"
)

var (
	// ErrRunNotFound is returned when no run matches an ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrAmbiguousRunID is returned when an ID prefix matches more than one run.
	ErrAmbiguousRunID = errors.New("run id prefix is ambiguous")
)

// ListOptions filters and pages ListRuns. Zero values mean no filter.
type ListOptions struct {
	Limit     int
	Offset    int
	Workdir   string
	Operation engine.Operation
	Status    engine.RunStatus
}

// Store is the run history. Writes come from the manager through
// engine.Recorder; reads serve the history commands.
type Store interface {
	engine.Recorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Queries
	GetRun(ctx context.Context, id string) (*engine.RunRecord, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]*engine.RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
