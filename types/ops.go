package types

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// SchemaVersion is the current operation batch wire format version.
const SchemaVersion = 1

// MaxBatchOperations is the hard ceiling on operations in a single batch.
const MaxBatchOperations = 1000

// ErrUnknownOperation is returned when a batch carries an unrecognized
// operation tag.
var ErrUnknownOperation = errors.New("unknown operation kind")

// OpKind tags an operation variant on the wire.
type OpKind string

const (
	OpAddNode     OpKind = "add_node"
	OpRemoveNode  OpKind = "remove_node"
	OpSetParams   OpKind = "set_params"
	OpSetPosition OpKind = "set_position"
	OpAddEdge     OpKind = "add_edge"
	OpRemoveEdge  OpKind = "remove_edge"
	OpRenameNode  OpKind = "rename_node"
	OpSetDisabled OpKind = "set_disabled"

	// Accepted wire aliases.
	opAliasDelete  OpKind = "delete"
	opAliasConnect OpKind = "connect"
)

// Operation is a single structural edit to a workflow graph. It is a sealed
// variant type: consumers switch exhaustively on the concrete type and new
// kinds cannot be added outside this package.
type Operation interface {
	Kind() OpKind
	sealed()
}

// AddNode inserts a new node.
type AddNode struct {
	Node Node
}

// RemoveNode deletes a node and, by cascade, every connection touching it.
type RemoveNode struct {
	NodeID string
}

// SetParams replaces a node's parameter map.
type SetParams struct {
	NodeID     string
	Parameters map[string]interface{}
}

// SetPosition moves a node on the canvas.
type SetPosition struct {
	NodeID   string
	Position Position
}

// AddEdge inserts a connection between two existing nodes.
type AddEdge struct {
	Connection Connection
}

// RemoveEdge deletes an existing connection.
type RemoveEdge struct {
	Connection Connection
}

// RenameNode changes a node's display name, addressed by its current name.
type RenameNode struct {
	OldName string
	NewName string
}

// SetDisabled toggles a node's disabled flag.
type SetDisabled struct {
	NodeID   string
	Disabled bool
}

func (AddNode) Kind() OpKind     { return OpAddNode }
func (RemoveNode) Kind() OpKind  { return OpRemoveNode }
func (SetParams) Kind() OpKind   { return OpSetParams }
func (SetPosition) Kind() OpKind { return OpSetPosition }
func (AddEdge) Kind() OpKind     { return OpAddEdge }
func (RemoveEdge) Kind() OpKind  { return OpRemoveEdge }
func (RenameNode) Kind() OpKind  { return OpRenameNode }
func (SetDisabled) Kind() OpKind { return OpSetDisabled }

func (AddNode) sealed()     {}
func (RemoveNode) sealed()  {}
func (SetParams) sealed()   {}
func (SetPosition) sealed() {}
func (AddEdge) sealed()     {}
func (RemoveEdge) sealed()  {}
func (RenameNode) sealed()  {}
func (SetDisabled) sealed() {}

// OperationBatch is an ordered list of operations applied all-or-nothing.
type OperationBatch struct {
	Version int
	Ops     []Operation
}

// opWire is the flattened wire form shared by all operation kinds. Exactly
// the fields a kind needs are populated; everything else is omitted.
type opWire struct {
	Op         OpKind                 `json:"op"`
	Node       *Node                  `json:"node,omitempty"`
	NodeID     string                 `json:"node_id,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Position   *Position              `json:"position,omitempty"`
	Source     string                 `json:"source,omitempty"`
	Target     string                 `json:"target,omitempty"`
	SourcePort int                    `json:"source_port,omitempty"`
	TargetPort int                    `json:"target_port,omitempty"`
	OldName    string                 `json:"old_name,omitempty"`
	NewName    string                 `json:"new_name,omitempty"`
	Disabled   bool                   `json:"disabled"`
}

type batchWire struct {
	Version int      `json:"version"`
	Ops     []opWire `json:"ops"`
}

func opToWire(op Operation) opWire {
	switch v := op.(type) {
	case AddNode:
		n := v.Node
		return opWire{Op: OpAddNode, Node: &n}
	case RemoveNode:
		return opWire{Op: OpRemoveNode, NodeID: v.NodeID}
	case SetParams:
		return opWire{Op: OpSetParams, NodeID: v.NodeID, Parameters: v.Parameters}
	case SetPosition:
		p := v.Position
		return opWire{Op: OpSetPosition, NodeID: v.NodeID, Position: &p}
	case AddEdge:
		return opWire{
			Op:     OpAddEdge,
			Source: v.Connection.Source, Target: v.Connection.Target,
			SourcePort: v.Connection.SourcePort, TargetPort: v.Connection.TargetPort,
		}
	case RemoveEdge:
		return opWire{
			Op:     OpRemoveEdge,
			Source: v.Connection.Source, Target: v.Connection.Target,
			SourcePort: v.Connection.SourcePort, TargetPort: v.Connection.TargetPort,
		}
	case RenameNode:
		return opWire{Op: OpRenameNode, OldName: v.OldName, NewName: v.NewName}
	case SetDisabled:
		return opWire{Op: OpSetDisabled, NodeID: v.NodeID, Disabled: v.Disabled}
	default:
		// Unreachable: Operation is sealed.
		panic(fmt.Sprintf("unhandled operation kind %q", op.Kind()))
	}
}

func opFromWire(w opWire) (Operation, error) {
	switch w.Op {
	case OpAddNode:
		if w.Node == nil {
			return nil, fmt.Errorf("add_node: missing node")
		}
		return AddNode{Node: *w.Node}, nil
	case OpRemoveNode, opAliasDelete:
		return RemoveNode{NodeID: w.NodeID}, nil
	case OpSetParams:
		return SetParams{NodeID: w.NodeID, Parameters: w.Parameters}, nil
	case OpSetPosition:
		if w.Position == nil {
			return nil, fmt.Errorf("set_position: missing position")
		}
		return SetPosition{NodeID: w.NodeID, Position: *w.Position}, nil
	case OpAddEdge, opAliasConnect:
		return AddEdge{Connection: Connection{
			Source: w.Source, Target: w.Target,
			SourcePort: w.SourcePort, TargetPort: w.TargetPort,
		}}, nil
	case OpRemoveEdge:
		return RemoveEdge{Connection: Connection{
			Source: w.Source, Target: w.Target,
			SourcePort: w.SourcePort, TargetPort: w.TargetPort,
		}}, nil
	case OpRenameNode:
		return RenameNode{OldName: w.OldName, NewName: w.NewName}, nil
	case OpSetDisabled:
		return SetDisabled{NodeID: w.NodeID, Disabled: w.Disabled}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, w.Op)
	}
}

// MarshalJSON encodes the batch in its tagged wire form.
func (b OperationBatch) MarshalJSON() ([]byte, error) {
	wire := batchWire{Version: b.Version, Ops: make([]opWire, 0, len(b.Ops))}
	for _, op := range b.Ops {
		wire.Ops = append(wire.Ops, opToWire(op))
	}
	return sonic.Marshal(wire)
}

// UnmarshalJSON decodes the tagged wire form, accepting the historical
// aliases "delete" and "connect". Unknown tags are rejected.
func (b *OperationBatch) UnmarshalJSON(data []byte) error {
	var wire batchWire
	if err := sonic.Unmarshal(data, &wire); err != nil {
		return err
	}
	ops := make([]Operation, 0, len(wire.Ops))
	for i, w := range wire.Ops {
		op, err := opFromWire(w)
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	b.Version = wire.Version
	b.Ops = ops
	return nil
}
