package workflow

import (
	"errors"
	"sync"

	"github.com/canvasflow/graph-engine/types"
)

// History errors
var (
	ErrNothingToUndo  = errors.New("nothing to undo")
	ErrNothingToRedo  = errors.New("nothing to redo")
	ErrUndoIDNotFound = errors.New("undo entry not found")
)

// DefaultMaxUndoDepth bounds the per-workflow undo stack. The oldest entry
// is evicted when the bound is exceeded.
const DefaultMaxUndoDepth = 100

// historyState holds one workflow's stacks. Most-recent entries are last.
type historyState struct {
	undo []types.UndoEntry
	redo []types.UndoEntry
}

// history tracks undo/redo stacks for every workflow the engine owns. It is
// engine-instance state, created and torn down with the engine.
type history struct {
	workflows map[string]*historyState
	maxDepth  int
	mu        sync.Mutex
}

func newHistory(maxDepth int) *history {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxUndoDepth
	}
	return &history{
		workflows: make(map[string]*historyState),
		maxDepth:  maxDepth,
	}
}

func (h *history) state(wfID string) *historyState {
	st, ok := h.workflows[wfID]
	if !ok {
		st = &historyState{}
		h.workflows[wfID] = st
	}
	return st
}

// record pushes an undo entry for a freshly applied batch. A new mutation
// invalidates any previously undone future, so the redo stack is cleared.
func (h *history) record(wfID string, e types.UndoEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(wfID)
	st.undo = append(st.undo, e)
	if len(st.undo) > h.maxDepth {
		st.undo = st.undo[len(st.undo)-h.maxDepth:]
	}
	st.redo = nil
}

// takeUndo removes and returns an undo entry. An empty entryID takes the
// most recent entry; otherwise the matching entry is removed from wherever
// it sits in the stack. The returned index allows restoreUndo to put the
// entry back if applying it fails.
func (h *history) takeUndo(wfID, entryID string) (types.UndoEntry, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(wfID)
	if len(st.undo) == 0 {
		return types.UndoEntry{}, 0, ErrNothingToUndo
	}
	if entryID == "" {
		i := len(st.undo) - 1
		e := st.undo[i]
		st.undo = st.undo[:i]
		return e, i, nil
	}
	for i := len(st.undo) - 1; i >= 0; i-- {
		if st.undo[i].ID == entryID {
			e := st.undo[i]
			st.undo = append(st.undo[:i], st.undo[i+1:]...)
			return e, i, nil
		}
	}
	return types.UndoEntry{}, 0, ErrUndoIDNotFound
}

// restoreUndo reinserts an entry taken by takeUndo at its original position.
func (h *history) restoreUndo(wfID string, e types.UndoEntry, index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(wfID)
	if index > len(st.undo) {
		index = len(st.undo)
	}
	st.undo = append(st.undo, types.UndoEntry{})
	copy(st.undo[index+1:], st.undo[index:])
	st.undo[index] = e
}

// pushRedo records the forward batch of a successful undo.
func (h *history) pushRedo(wfID string, e types.UndoEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(wfID)
	st.redo = append(st.redo, e)
}

// takeRedo pops the most recent redo entry.
func (h *history) takeRedo(wfID string) (types.UndoEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(wfID)
	if len(st.redo) == 0 {
		return types.UndoEntry{}, ErrNothingToRedo
	}
	i := len(st.redo) - 1
	e := st.redo[i]
	st.redo = st.redo[:i]
	return e, nil
}

// restoreRedo puts back a redo entry whose application failed.
func (h *history) restoreRedo(wfID string, e types.UndoEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(wfID)
	st.redo = append(st.redo, e)
}

// recordAfterRedo pushes an undo entry for a reapplied batch without
// clearing the remaining redo stack.
func (h *history) recordAfterRedo(wfID string, e types.UndoEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(wfID)
	st.undo = append(st.undo, e)
	if len(st.undo) > h.maxDepth {
		st.undo = st.undo[len(st.undo)-h.maxDepth:]
	}
}

// drop discards all history for a workflow.
func (h *history) drop(wfID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.workflows, wfID)
}

// depths reports the current stack sizes, mostly for tests and diagnostics.
func (h *history) depths(wfID string) (undo, redo int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.workflows[wfID]
	if !ok {
		return 0, 0
	}
	return len(st.undo), len(st.redo)
}
