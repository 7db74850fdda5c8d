// Package store persists workflow run state: one snapshot per executed step
// plus named checkpoints that a run can later be resumed from.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a run or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Store persists run state of type S. Implementations must be safe for
// concurrent use across runs.
type Store[S any] interface {
	// SaveStep records the state after step of runID. Saving the same step
	// twice overwrites the earlier record.
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error

	// LoadLatest returns the state of the highest step of runID.
	LoadLatest(ctx context.Context, runID string) (state S, step int, err error)

	// LoadSteps returns every step of runID in ascending step order.
	LoadSteps(ctx context.Context, runID string) ([]StepRecord[S], error)

	// SaveCheckpoint stores state under a caller-chosen checkpoint ID,
	// replacing any previous checkpoint with that ID.
	SaveCheckpoint(ctx context.Context, cpID string, state S, step int) error

	// LoadCheckpoint returns the state saved under cpID.
	LoadCheckpoint(ctx context.Context, cpID string) (state S, step int, err error)
}

// RunDeleter is implemented by stores that can drop the steps of a finished
// run. Long-running processes using MemStore call it once a run's result has
// been delivered.
type RunDeleter interface {
	DeleteRun(ctx context.Context, runID string) error
}

// StepRecord is one persisted step of a run.
type StepRecord[S any] struct {
	Step   int    `json:"step"`
	NodeID string `json:"node_id"`
	State  S      `json:"state"`
}

// Checkpoint is a named snapshot of run state.
type Checkpoint[S any] struct {
	ID    string `json:"id"`
	State S      `json:"state"`
	Step  int    `json:"step"`
}

// Open returns the store for a configured backend: "memory", "sqlite" (dsn
// is a file path or ":memory:") or "mysql" (dsn is a go-sql-driver DSN).
// The returned close function releases the backend's resources.
func Open[S any](backend, dsn string) (Store[S], func() error, error) {
	switch backend {
	case "", "memory":
		return NewMemStore[S](), func() error { return nil }, nil
	case "sqlite":
		st, err := NewSQLiteStore[S](dsn)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "mysql":
		st, err := NewMySQLStore[S](dsn)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
