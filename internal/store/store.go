// Package store persists run history and the output tables of each run.
package store

import (
	"context"
	"errors"

	"github.com/sells-group/crm-migrate/internal/model"
)

// ErrRunNotFound is returned, wrapped, when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status      model.RunStatus `json:"status,omitempty"`
	SnapshotDir string          `json:"snapshot_dir,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Offset      int             `json:"offset,omitempty"`
}

// Outputs are the tables a run produces. They are saved as one unit.
type Outputs struct {
	Companies    []model.CompanyRecord
	Deals        []model.ClassifiedDeal
	Associations []model.AssociationRecord
}

// Store defines the persistence interface for migration runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, snapshotDir string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Outputs. SaveOutputs replaces everything previously saved for the run in a
	// single transaction; association rows are keyed on their natural key.
	SaveOutputs(ctx context.Context, runID string, out Outputs) error
	// DeleteOutputs removes every output row of the run in a single transaction.
	DeleteOutputs(ctx context.Context, runID string) error
	ListAssociations(ctx context.Context, runID string) ([]model.AssociationRecord, error)
	ListDeals(ctx context.Context, runID string) ([]model.ClassifiedDeal, error)
	ListCompanies(ctx context.Context, runID string) ([]model.CompanyRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// runStatusFor is the terminal status recorded with a run result.
func runStatusFor(result *model.RunResult) model.RunStatus {
	if result != nil && result.Success {
		return model.RunStatusComplete
	}
	return model.RunStatusFailed
}

// nullableInt64 converts an optional id to a driver value.
func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
