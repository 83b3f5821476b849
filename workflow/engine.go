// Package workflow implements the graph mutation engine: an atomic,
// reversible operation-batch applier over in-memory workflow graphs, with
// per-workflow undo/redo history.
package workflow

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/songzhibin97/gkit/generator"

	"github.com/canvasflow/graph-engine/events"
	"github.com/canvasflow/graph-engine/graph"
	"github.com/canvasflow/graph-engine/rules"
	"github.com/canvasflow/graph-engine/storage"
	"github.com/canvasflow/graph-engine/types"
)

// Store-level errors surfaced through the facade.
var (
	ErrWorkflowNotFound  = graph.ErrWorkflowNotFound
	ErrDuplicateWorkflow = graph.ErrDuplicateWorkflow
)

// Event types published on every committed mutation.
const (
	EventWorkflowCreated = "workflow_created"
	EventWorkflowDeleted = "workflow_deleted"
	EventBatchApplied    = "batch_applied"
	EventBatchUndone     = "batch_undone"
	EventBatchRedone     = "batch_redone"
)

// ApplyResult reports a committed batch.
type ApplyResult struct {
	Success           bool   `json:"success"`
	AppliedOperations int    `json:"applied_operations"`
	UndoID            string `json:"undo_id"`
}

// UndoResult reports a committed undo.
type UndoResult struct {
	Success          bool `json:"success"`
	UndoneOperations int  `json:"undone_operations"`
}

// RedoResult reports a committed redo.
type RedoResult struct {
	Success          bool `json:"success"`
	RedoneOperations int  `json:"redone_operations"`
}

// Engine is the public entry point composing the graph store, the batch
// applier, and the history manager. All mutations to one workflow are
// serialized on a per-workflow lock; different workflows proceed in
// parallel.
type Engine struct {
	graphs      *graph.Store
	hist        *history
	storage     storage.Storage
	eventBus    *events.Bus
	linter      *rules.Linter
	generate    generator.Generator
	locks       map[string]*sync.Mutex
	locksMu     sync.Mutex
	maxBatchOps int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxUndoDepth bounds the per-workflow undo stack; older entries are
// evicted beyond the bound.
func WithMaxUndoDepth(depth int) Option {
	return func(e *Engine) {
		e.hist = newHistory(depth)
	}
}

// WithMaxBatchOperations overrides the batch operation ceiling.
func WithMaxBatchOperations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBatchOps = n
		}
	}
}

// WithEventBus replaces the default event bus.
func WithEventBus(bus *events.Bus) Option {
	return func(e *Engine) {
		if bus != nil {
			e.eventBus = bus
		}
	}
}

// NewEngine creates an Engine. The generator is required (it mints undo
// entry ids). A nil store falls back to in-memory snapshots; a nil linter
// falls back to the default rule set.
func NewEngine(generate generator.Generator, store storage.Storage, linter *rules.Linter, opts ...Option) (*Engine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	if linter == nil {
		linter = rules.NewLinter(rules.NewExprEvaluator(), rules.DefaultRules())
	}

	e := &Engine{
		graphs:      graph.NewStore(),
		hist:        newHistory(DefaultMaxUndoDepth),
		storage:     store,
		eventBus:    events.NewBus(),
		linter:      linter,
		generate:    generate,
		locks:       make(map[string]*sync.Mutex),
		maxBatchOps: types.MaxBatchOperations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SubscribeEvent subscribes a handler to a mutation event type.
func (e *Engine) SubscribeEvent(eventType string, handler events.Handler) {
	e.eventBus.Subscribe(eventType, handler)
}

// lockFor returns the mutation lock for a workflow id, creating it on first
// use. Locks are never removed: a deleted and recreated id keeps the same
// mutex, so two mutators can never hold different locks for one workflow.
func (e *Engine) lockFor(id string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

func (e *Engine) publishEvent(ctx context.Context, eventType, workflowID string, data map[string]interface{}) {
	go e.eventBus.Publish(ctx, events.Event{
		Type:       eventType,
		WorkflowID: workflowID,
		Data:       data,
	})
}

func (e *Engine) nextUndoID() (string, error) {
	id, err := e.generate.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(id, 10), nil
}

// CreateWorkflow registers a new empty workflow. An empty id is replaced
// with a generated UUID. Returns an independent snapshot of the new graph.
func (e *Engine) CreateWorkflow(ctx context.Context, id, name string) (*types.Workflow, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if id == "" {
		id = uuid.NewString()
	}

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	wf, err := e.graphs.Create(id, name)
	if err != nil {
		return nil, err
	}
	if err := e.storage.SaveWorkflow(ctx, *wf); err != nil {
		e.graphs.Delete(id)
		return nil, err
	}

	e.publishEvent(ctx, EventWorkflowCreated, id, map[string]interface{}{
		"name": name,
	})
	return graph.Clone(wf), nil
}

// DeleteWorkflow destroys a workflow, its history, and its stored snapshot.
func (e *Engine) DeleteWorkflow(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := e.graphs.Delete(id); err != nil {
		return err
	}
	e.hist.drop(id)
	if err := e.storage.DeleteWorkflow(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	e.publishEvent(ctx, EventWorkflowDeleted, id, nil)
	return nil
}

// GetWorkflow returns an independent snapshot of the current graph.
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*types.Workflow, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return e.graphs.Snapshot(id)
	}
}

// ListWorkflows returns all known workflow ids.
func (e *Engine) ListWorkflows(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return e.graphs.IDs(), nil
	}
}

// ApplyBatch validates and applies an operation batch atomically. On any
// validation failure the authoritative graph is untouched and a
// *ValidationError is returned. On success the new snapshot is published,
// the inverse batch is pushed onto the undo stack, and the redo stack is
// cleared. An empty batch is a successful no-op with an empty inverse.
func (e *Engine) ApplyBatch(ctx context.Context, id string, batch types.OperationBatch) (*ApplyResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cur, err := e.graphs.Get(id)
	if err != nil {
		return nil, err
	}

	next, inverse, err := applyBatch(cur, batch, e.maxBatchOps)
	if err != nil {
		return nil, err
	}

	undoID, err := e.nextUndoID()
	if err != nil {
		return nil, err
	}

	// Persist before publishing so a failing save hook leaves the
	// authoritative state untouched.
	if err := e.storage.SaveWorkflow(ctx, *next); err != nil {
		return nil, err
	}
	if err := e.graphs.Replace(id, next); err != nil {
		return nil, err
	}
	e.hist.record(id, types.UndoEntry{ID: undoID, Batch: inverse, At: time.Now()})

	payload := map[string]interface{}{
		"operations": len(batch.Ops),
		"undo_id":    undoID,
	}
	if hash, err := graph.Hash(next); err == nil {
		payload["hash"] = hash
	} else {
		payload["hash_error"] = err.Error()
	}
	e.publishEvent(ctx, EventBatchApplied, id, payload)

	return &ApplyResult{
		Success:           true,
		AppliedOperations: len(batch.Ops),
		UndoID:            undoID,
	}, nil
}

// Undo reverts a previously applied batch. An empty undoID reverts the most
// recent one; a non-empty undoID reverts that specific entry even if it is
// not on top of the stack. An out-of-order undo whose inverse no longer
// applies cleanly fails atomically and leaves the entry in place.
func (e *Engine) Undo(ctx context.Context, id, undoID string) (*UndoResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cur, err := e.graphs.Get(id)
	if err != nil {
		return nil, err
	}

	entry, index, err := e.hist.takeUndo(id, undoID)
	if err != nil {
		return nil, err
	}

	next, forward, err := applyBatch(cur, entry.Batch, 0)
	if err != nil {
		e.hist.restoreUndo(id, entry, index)
		return nil, err
	}
	if err := e.storage.SaveWorkflow(ctx, *next); err != nil {
		e.hist.restoreUndo(id, entry, index)
		return nil, err
	}
	if err := e.graphs.Replace(id, next); err != nil {
		e.hist.restoreUndo(id, entry, index)
		return nil, err
	}
	// The inverse of the inverse is the original forward batch; keep it
	// redo-able under the same entry id.
	e.hist.pushRedo(id, types.UndoEntry{ID: entry.ID, Batch: forward, At: time.Now()})

	e.publishEvent(ctx, EventBatchUndone, id, map[string]interface{}{
		"operations": len(entry.Batch.Ops),
		"undo_id":    entry.ID,
	})

	return &UndoResult{Success: true, UndoneOperations: len(entry.Batch.Ops)}, nil
}

// Redo reapplies the most recently undone batch and pushes a fresh inverse
// onto the undo stack. Older redo entries remain available.
func (e *Engine) Redo(ctx context.Context, id string) (*RedoResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cur, err := e.graphs.Get(id)
	if err != nil {
		return nil, err
	}

	entry, err := e.hist.takeRedo(id)
	if err != nil {
		return nil, err
	}

	next, inverse, err := applyBatch(cur, entry.Batch, 0)
	if err != nil {
		e.hist.restoreRedo(id, entry)
		return nil, err
	}
	if err := e.storage.SaveWorkflow(ctx, *next); err != nil {
		e.hist.restoreRedo(id, entry)
		return nil, err
	}
	if err := e.graphs.Replace(id, next); err != nil {
		e.hist.restoreRedo(id, entry)
		return nil, err
	}

	undoID, err := e.nextUndoID()
	if err != nil {
		undoID = entry.ID
	}
	e.hist.recordAfterRedo(id, types.UndoEntry{ID: undoID, Batch: inverse, At: time.Now()})

	e.publishEvent(ctx, EventBatchRedone, id, map[string]interface{}{
		"operations": len(entry.Batch.Ops),
		"undo_id":    undoID,
	})

	return &RedoResult{Success: true, RedoneOperations: len(entry.Batch.Ops)}, nil
}

// Validate runs the lint rule set against the current graph. Findings are
// advisory; they never block mutations. Extra ad-hoc rules may be supplied
// per call.
func (e *Engine) Validate(ctx context.Context, id string, extra ...rules.Rule) ([]rules.Finding, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	wf, err := e.graphs.Get(id)
	if err != nil {
		return nil, err
	}
	return e.linter.Lint(ctx, wf, extra...)
}

// HistoryDepths reports the undo/redo stack sizes for a workflow.
func (e *Engine) HistoryDepths(id string) (undo, redo int) {
	return e.hist.depths(id)
}

// Stop shuts down the engine's event bus.
func (e *Engine) Stop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		e.eventBus.Stop()
		return nil
	}
}
