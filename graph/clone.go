package graph

import "github.com/canvasflow/graph-engine/types"

// Clone deep-copies a workflow graph. Node parameter maps are copied
// recursively so that mutating the clone can never leak into the original
// snapshot.
func Clone(wf *types.Workflow) *types.Workflow {
	out := &types.Workflow{
		ID:          wf.ID,
		Name:        wf.Name,
		Nodes:       make([]types.Node, len(wf.Nodes)),
		Connections: make([]types.Connection, len(wf.Connections)),
	}
	for i, n := range wf.Nodes {
		n.Parameters = types.CloneParams(n.Parameters)
		out.Nodes[i] = n
	}
	copy(out.Connections, wf.Connections)
	return out
}
