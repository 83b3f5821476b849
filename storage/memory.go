package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/canvasflow/graph-engine/graph"
	"github.com/canvasflow/graph-engine/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Snapshots are deep-copied on the way in and out so callers can never
// alias stored state.
type MemoryStorage struct {
	workflows map[string]types.Workflow
	mu        sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{workflows: make(map[string]types.Workflow)}
}

// SaveWorkflow stores a deep copy of the snapshot.
func (s *MemoryStorage) SaveWorkflow(ctx context.Context, wf types.Workflow) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.workflows[wf.ID] = *graph.Clone(&wf)
		return nil
	})
}

// GetWorkflow returns a deep copy of the stored snapshot.
func (s *MemoryStorage) GetWorkflow(ctx context.Context, id string) (types.Workflow, error) {
	return withContext(ctx, func() (types.Workflow, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		wf, ok := s.workflows[id]
		if !ok {
			return types.Workflow{}, fmt.Errorf("%w: id=%s", ErrNotFound, id)
		}
		return *graph.Clone(&wf), nil
	})
}

// DeleteWorkflow removes a stored snapshot.
func (s *MemoryStorage) DeleteWorkflow(ctx context.Context, id string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.workflows[id]; !ok {
			return fmt.Errorf("%w: id=%s", ErrNotFound, id)
		}
		delete(s.workflows, id)
		return nil
	})
}

// ListWorkflowIDs returns all stored ids in lexical order.
func (s *MemoryStorage) ListWorkflowIDs(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		ids := make([]string, 0, len(s.workflows))
		for id := range s.workflows {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids, nil
	})
}
