package workflow

import (
	"errors"
	"fmt"
	"math"

	"github.com/canvasflow/graph-engine/types"
)

// Validation reason sentinels. A ValidationError wraps exactly one of these
// (or types.ErrCyclicParams / types.ErrUnknownOperation).
var (
	ErrEmptyNodeID     = errors.New("node id must not be empty")
	ErrDuplicateNodeID = errors.New("node id already exists")
	ErrNodeNotFound    = errors.New("node not found")
	ErrEmptyNodeType   = errors.New("node type must not be empty")
	ErrBadTypeVersion  = errors.New("type version must be a positive integer")
	ErrBadPosition     = errors.New("position must be finite and within canvas bounds")
	ErrSelfLoop        = errors.New("connection source and target must differ")
	ErrDuplicateEdge   = errors.New("connection already exists")
	ErrEdgeNotFound    = errors.New("connection not found")
	ErrBadPort         = errors.New("port index must not be negative")
	ErrNameNotFound    = errors.New("no node has the given name")
	ErrNameTaken       = errors.New("node name already in use")
	ErrBatchTooLarge   = errors.New("batch exceeds operation limit")
)

// ValidationError reports the first operation in a batch that failed
// validation. Index is -1 for batch-level failures such as an oversized
// batch.
type ValidationError struct {
	Index int
	Kind  types.OpKind
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("batch rejected: %v", e.Err)
	}
	return fmt.Sprintf("operation %d (%s) rejected: %v", e.Index, e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// checkPosition enforces invariant 4: finite coordinates within the canvas.
func checkPosition(p types.Position) error {
	for _, v := range [2]float64{p.X, p.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > types.MaxCoordinate {
			return ErrBadPosition
		}
	}
	return nil
}

// applyOperation validates op against g, mutates g in place on success, and
// returns the inverse operation group. The group is ordered so that applying
// its members in order undoes op: a cascade delete yields the node re-add
// followed by its connection re-adds.
func applyOperation(g *types.Workflow, op types.Operation) ([]types.Operation, error) {
	switch v := op.(type) {
	case types.AddNode:
		n := v.Node
		if n.ID == "" {
			return nil, ErrEmptyNodeID
		}
		if g.NodeIndex(n.ID) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNodeID, n.ID)
		}
		if n.Type == "" {
			return nil, ErrEmptyNodeType
		}
		if n.TypeVersion <= 0 {
			return nil, fmt.Errorf("%w: got %d", ErrBadTypeVersion, n.TypeVersion)
		}
		if err := checkPosition(n.Position); err != nil {
			return nil, err
		}
		if err := types.AcyclicParams(n.Parameters); err != nil {
			return nil, err
		}
		n.Parameters = types.CloneParams(n.Parameters)
		g.Nodes = append(g.Nodes, n)
		return []types.Operation{types.RemoveNode{NodeID: n.ID}}, nil

	case types.RemoveNode:
		i := g.NodeIndex(v.NodeID)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, v.NodeID)
		}
		node := g.Nodes[i]
		cascaded := g.IncidentConnections(v.NodeID)
		g.Nodes = append(g.Nodes[:i], g.Nodes[i+1:]...)
		if len(cascaded) > 0 {
			kept := g.Connections[:0]
			for _, c := range g.Connections {
				if c.Source != v.NodeID && c.Target != v.NodeID {
					kept = append(kept, c)
				}
			}
			g.Connections = kept
		}
		// Inverse re-adds the node before its connections so the edges
		// never dangle.
		inverse := make([]types.Operation, 0, 1+len(cascaded))
		inverse = append(inverse, types.AddNode{Node: node})
		for _, c := range cascaded {
			inverse = append(inverse, types.AddEdge{Connection: c})
		}
		return inverse, nil

	case types.SetParams:
		i := g.NodeIndex(v.NodeID)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, v.NodeID)
		}
		if err := types.AcyclicParams(v.Parameters); err != nil {
			return nil, err
		}
		prev := g.Nodes[i].Parameters
		g.Nodes[i].Parameters = types.CloneParams(v.Parameters)
		// Full snapshot, not a diff, so the round-trip is exact.
		return []types.Operation{types.SetParams{NodeID: v.NodeID, Parameters: prev}}, nil

	case types.SetPosition:
		i := g.NodeIndex(v.NodeID)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, v.NodeID)
		}
		if err := checkPosition(v.Position); err != nil {
			return nil, err
		}
		prev := g.Nodes[i].Position
		g.Nodes[i].Position = v.Position
		return []types.Operation{types.SetPosition{NodeID: v.NodeID, Position: prev}}, nil

	case types.AddEdge:
		c := v.Connection
		if c.SourcePort < 0 || c.TargetPort < 0 {
			return nil, ErrBadPort
		}
		if g.NodeIndex(c.Source) < 0 {
			return nil, fmt.Errorf("%w: source %s", ErrNodeNotFound, c.Source)
		}
		if g.NodeIndex(c.Target) < 0 {
			return nil, fmt.Errorf("%w: target %s", ErrNodeNotFound, c.Target)
		}
		if c.Source == c.Target {
			return nil, fmt.Errorf("%w: %s", ErrSelfLoop, c.Source)
		}
		if g.ConnectionIndex(c) >= 0 {
			return nil, fmt.Errorf("%w: %s -> %s", ErrDuplicateEdge, c.Source, c.Target)
		}
		g.Connections = append(g.Connections, c)
		return []types.Operation{types.RemoveEdge{Connection: c}}, nil

	case types.RemoveEdge:
		c := v.Connection
		i := g.ConnectionIndex(c)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s -> %s", ErrEdgeNotFound, c.Source, c.Target)
		}
		g.Connections = append(g.Connections[:i], g.Connections[i+1:]...)
		return []types.Operation{types.AddEdge{Connection: c}}, nil

	case types.RenameNode:
		i := g.NodeIndexByName(v.OldName)
		if i < 0 {
			return nil, fmt.Errorf("%w: %q", ErrNameNotFound, v.OldName)
		}
		if v.NewName != v.OldName && g.NodeIndexByName(v.NewName) >= 0 {
			return nil, fmt.Errorf("%w: %q", ErrNameTaken, v.NewName)
		}
		g.Nodes[i].Name = v.NewName
		return []types.Operation{types.RenameNode{OldName: v.NewName, NewName: v.OldName}}, nil

	case types.SetDisabled:
		i := g.NodeIndex(v.NodeID)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, v.NodeID)
		}
		prev := g.Nodes[i].Disabled
		g.Nodes[i].Disabled = v.Disabled
		return []types.Operation{types.SetDisabled{NodeID: v.NodeID, Disabled: prev}}, nil

	default:
		// Unreachable for batches built through types; guards against a
		// future variant slipping past this switch.
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownOperation, op.Kind())
	}
}
