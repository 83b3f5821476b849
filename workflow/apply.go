package workflow

import (
	"github.com/canvasflow/graph-engine/graph"
	"github.com/canvasflow/graph-engine/types"
)

// applyBatch runs every operation of batch against a scratch clone of g.
// It returns the fully mutated clone and the inverse batch, or a
// *ValidationError with g left untouched. maxOps <= 0 disables the size
// check (used for internally generated inverse batches, whose cascade
// expansion may exceed the external limit).
func applyBatch(g *types.Workflow, batch types.OperationBatch, maxOps int) (*types.Workflow, types.OperationBatch, error) {
	if maxOps > 0 && len(batch.Ops) > maxOps {
		return nil, types.OperationBatch{}, &ValidationError{Index: -1, Err: ErrBatchTooLarge}
	}

	scratch := graph.Clone(g)
	groups := make([][]types.Operation, 0, len(batch.Ops))
	for i, op := range batch.Ops {
		inverse, err := applyOperation(scratch, op)
		if err != nil {
			return nil, types.OperationBatch{}, &ValidationError{Index: i, Kind: op.Kind(), Err: err}
		}
		groups = append(groups, inverse)
	}

	// Inverse groups run in reverse order of the forward operations, with
	// each group's internal order preserved (node re-add before its
	// cascaded connections).
	var inverseOps []types.Operation
	for i := len(groups) - 1; i >= 0; i-- {
		inverseOps = append(inverseOps, groups[i]...)
	}

	inverse := types.OperationBatch{Version: types.SchemaVersion, Ops: inverseOps}
	return scratch, inverse, nil
}
