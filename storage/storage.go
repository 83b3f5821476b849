// Package storage is the engine's pluggable save hook: committed graph
// snapshots are mirrored to a backend so an embedding application can
// reload them. The in-memory graph store stays authoritative; backends
// never feed state back into a running engine.
package storage

import (
	"context"
	"errors"

	"github.com/canvasflow/graph-engine/types"
)

// ErrNotFound is returned when a requested snapshot does not exist.
var ErrNotFound = errors.New("workflow snapshot not found")

// Storage persists workflow graph snapshots.
type Storage interface {
	// SaveWorkflow stores the current snapshot of a workflow.
	SaveWorkflow(ctx context.Context, wf types.Workflow) error

	// GetWorkflow retrieves the last saved snapshot.
	GetWorkflow(ctx context.Context, id string) (types.Workflow, error)

	// DeleteWorkflow removes a stored snapshot.
	DeleteWorkflow(ctx context.Context, id string) error

	// ListWorkflowIDs returns the ids of all stored snapshots.
	ListWorkflowIDs(ctx context.Context) ([]string, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only
// return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
