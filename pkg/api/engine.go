package api

import "context"

// RunListOptions controls how runs are listed.
// Zero values mean "no filter" for that field.
type RunListOptions struct {
	InstanceID string
	Status     RunStatus

	// Limit caps the number of runs returned; 0 means no limit.
	Limit int
}

// ProblemInstance is an instance whose recent runs keep ending without a
// completed run.
type ProblemInstance struct {
	InstanceID string    `json:"instance_id"`
	Name       string    `json:"name"`
	Streak     int       `json:"streak"`
	LastStatus RunStatus `json:"last_status"`
}

// Engine executes runs of configured instances.
type Engine interface {
	// CreateRun snapshots the instance and persists a pending run.
	CreateRun(ctx context.Context, instanceID string) (*Run, error)

	// CreateDirectRun persists a pending run whose snapshot is the only
	// source of configuration. Instance and template IDs are DirectID.
	CreateDirectRun(ctx context.Context, snap Snapshot) (*Run, error)

	// Execute claims a pending run and executes its steps in order.
	// Executing a run that already reached a terminal status returns it
	// unchanged; a run claimed by another caller yields ErrRunNotPending.
	Execute(ctx context.Context, runID string) (*Run, error)

	// RunInstance creates and executes a run of the instance.
	RunInstance(ctx context.Context, instanceID string) (*Run, error)

	// RunDirect creates and executes a run from a transient snapshot.
	RunDirect(ctx context.Context, snap Snapshot) (*Run, error)

	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, opts RunListOptions) ([]*Run, error)

	// FailureStreak counts consecutive failed or completed_no_items runs of
	// the instance, newest first, stopping at the first completed run.
	FailureStreak(ctx context.Context, instanceID string) (int, error)

	// ProblemInstances returns instances whose failure streak exceeds
	// threshold.
	ProblemInstances(ctx context.Context, threshold int) ([]ProblemInstance, error)

	// RecoverStuckRuns marks runs still in the running state as failed.
	//
	// It is intended to be called on process startup before starting
	// workers, so that no run is legitimately running when it executes.
	RecoverStuckRuns(ctx context.Context) (int, error)
}
