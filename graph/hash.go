package graph

import (
	"encoding/hex"
	"sort"

	"github.com/bytedance/sonic"
	"lukechampine.com/blake3"

	"github.com/canvasflow/graph-engine/types"
)

// canonical marshals with sorted map keys so the same graph content always
// produces the same bytes.
var canonical = sonic.Config{SortMapKeys: true}.Froze()

// Hash returns a stable blake3 fingerprint of the graph content. Two graphs
// hash equal iff they have the same nodes, connections, and parameters;
// insertion order does not affect the hash.
func Hash(wf *types.Workflow) (string, error) {
	norm := Clone(wf)
	sort.Slice(norm.Nodes, func(i, j int) bool {
		return norm.Nodes[i].ID < norm.Nodes[j].ID
	})
	sort.Slice(norm.Connections, func(i, j int) bool {
		a, b := norm.Connections[i], norm.Connections[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.SourcePort != b.SourcePort {
			return a.SourcePort < b.SourcePort
		}
		return a.TargetPort < b.TargetPort
	})

	data, err := canonical.Marshal(norm)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
