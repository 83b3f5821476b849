// Package graph owns the authoritative in-memory workflow graphs. Each
// workflow id maps to a single immutable snapshot; writers publish a whole
// new snapshot in one step, so readers never observe a half-mutated graph.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/canvasflow/graph-engine/types"
)

// Errors
var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrDuplicateWorkflow = errors.New("workflow already exists")
)

// Store is a copy-on-write store of workflow graphs keyed by workflow id.
// Snapshots handed out by Get must be treated as read-only; mutation goes
// through clone-and-Replace.
type Store struct {
	graphs map[string]*types.Workflow
	mu     sync.RWMutex
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{graphs: make(map[string]*types.Workflow)}
}

// Create registers a new empty workflow under the given id.
func (s *Store) Create(id, name string) (*types.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[id]; ok {
		return nil, fmt.Errorf("%w: id=%s", ErrDuplicateWorkflow, id)
	}
	wf := &types.Workflow{
		ID:          id,
		Name:        name,
		Nodes:       []types.Node{},
		Connections: []types.Connection{},
	}
	s.graphs[id] = wf
	return wf, nil
}

// Get returns the current snapshot for the given id. The returned graph is
// shared and must not be mutated.
func (s *Store) Get(id string) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
	}
	return wf, nil
}

// Snapshot returns an independent deep copy of the current graph, safe to
// hand to external callers.
func (s *Store) Snapshot(id string) (*types.Workflow, error) {
	wf, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return Clone(wf), nil
}

// Replace atomically publishes a new snapshot for an existing workflow.
// Only the batch applier calls this, after a fully validated transaction.
func (s *Store) Replace(id string, wf *types.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[id]; !ok {
		return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
	}
	s.graphs[id] = wf
	return nil
}

// Delete removes a workflow and its snapshot.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[id]; !ok {
		return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
	}
	delete(s.graphs, id)
	return nil
}

// IDs returns all workflow ids in lexical order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.graphs))
	for id := range s.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
