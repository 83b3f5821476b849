// Package codec decodes planner-supplied operation batches. Planners are
// often LLMs, and their JSON arrives with trailing commas, single quotes,
// or truncated brackets; a repair pass salvages what strict parsing cannot.
package codec

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/kaptinlin/jsonrepair"

	"github.com/canvasflow/graph-engine/types"
)

// ParseBatch decodes an operation batch from JSON. If strict decoding
// fails, the input is repaired and decoded once more; structural problems
// that survive repair (unknown operation tags, missing fields) are still
// rejected.
func ParseBatch(data []byte) (*types.OperationBatch, error) {
	var batch types.OperationBatch
	err := sonic.Unmarshal(data, &batch)
	if err == nil {
		return &batch, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}
	if err := sonic.Unmarshal([]byte(repaired), &batch); err != nil {
		return nil, fmt.Errorf("failed to parse repaired batch: %w", err)
	}
	return &batch, nil
}

// EncodeBatch renders a batch in its tagged wire form.
func EncodeBatch(batch *types.OperationBatch) ([]byte, error) {
	return sonic.Marshal(batch)
}
