package types

import (
	"time"

	"github.com/bytedance/sonic"
)

// MaxCoordinate bounds node positions on both axes. Editors place nodes on a
// finite canvas; anything beyond this is treated as corrupt input.
const MaxCoordinate = 1e6

// Position is a node's 2-D canvas position. On the wire it is the
// two-element array [x, y].
type Position struct {
	X float64
	Y float64
}

// MarshalJSON encodes the position as [x, y].
func (p Position) MarshalJSON() ([]byte, error) {
	return sonic.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON decodes the [x, y] array form.
func (p *Position) UnmarshalJSON(data []byte) error {
	var arr [2]float64
	if err := sonic.Unmarshal(data, &arr); err != nil {
		return err
	}
	p.X, p.Y = arr[0], arr[1]
	return nil
}

// Node is a single step in a workflow graph.
type Node struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	TypeVersion int                    `json:"type_version"`
	Position    Position               `json:"position"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Disabled    bool                   `json:"disabled,omitempty"`
}

// Connection is a directed edge between two nodes of the same workflow,
// optionally qualified by port indices. Both endpoints must reference
// existing nodes at all times.
type Connection struct {
	Source     string `json:"source"`
	Target     string `json:"target"`
	SourcePort int    `json:"source_port,omitempty"`
	TargetPort int    `json:"target_port,omitempty"`
}

// Workflow is a named graph of nodes and connections. Node order is
// insertion order and is display-relevant only.
type Workflow struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// NodeIndex returns the index of the node with the given id, or -1.
func (w *Workflow) NodeIndex(id string) int {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// NodeIndexByName returns the index of the first node with the given display
// name, or -1.
func (w *Workflow) NodeIndexByName(name string) int {
	for i := range w.Nodes {
		if w.Nodes[i].Name == name {
			return i
		}
	}
	return -1
}

// ConnectionIndex returns the index of the exact (source, target, ports)
// tuple, or -1.
func (w *Workflow) ConnectionIndex(c Connection) int {
	for i := range w.Connections {
		if w.Connections[i] == c {
			return i
		}
	}
	return -1
}

// IncidentConnections returns all connections touching the given node, in
// insertion order.
func (w *Workflow) IncidentConnections(nodeID string) []Connection {
	var out []Connection
	for _, c := range w.Connections {
		if c.Source == nodeID || c.Target == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// UndoEntry records the inverse batch of a previously applied batch. Applying
// Batch restores the graph to its state before the original batch ran.
type UndoEntry struct {
	ID    string         `json:"id"`
	Batch OperationBatch `json:"batch"`
	At    time.Time      `json:"at"`
}
