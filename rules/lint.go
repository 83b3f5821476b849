package rules

import (
	"context"
	"fmt"

	"github.com/canvasflow/graph-engine/types"
)

// Severity grades a lint finding.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Finding is one lint result for a node of the inspected workflow.
type Finding struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	NodeID   string   `json:"node_id"`
	Message  string   `json:"message"`
}

// Rule is a per-node lint condition. When evaluates against the node
// environment (see nodeEnv); a true result produces a Finding.
type Rule struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	When     string   `json:"when"`
}

// Linter inspects committed graph snapshots for semantic quality issues.
// It never mutates the graph and never blocks a batch; structural legality
// is the validator's job, not the linter's.
type Linter struct {
	eval  Evaluator
	rules []Rule
}

// NewLinter creates a Linter with the given base rule set.
func NewLinter(eval Evaluator, rules []Rule) *Linter {
	return &Linter{eval: eval, rules: rules}
}

// DefaultRules is the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "orphan-node",
			Severity: SeverityWarning,
			Message:  "node has no connections",
			When:     "node_count > 1 && in_degree == 0 && out_degree == 0",
		},
		{
			Name:     "disabled-bridge",
			Severity: SeverityInfo,
			Message:  "disabled node sits on a connected path",
			When:     "disabled && in_degree > 0 && out_degree > 0",
		},
		{
			Name:     "unnamed-node",
			Severity: SeverityInfo,
			Message:  "node has no display name",
			When:     `name == ""`,
		},
	}
}

// nodeEnv builds the expression environment for one node.
func nodeEnv(wf *types.Workflow, n *types.Node, inDeg, outDeg int) map[string]interface{} {
	return map[string]interface{}{
		"id":               n.ID,
		"name":             n.Name,
		"type":             n.Type,
		"type_version":     n.TypeVersion,
		"disabled":         n.Disabled,
		"in_degree":        inDeg,
		"out_degree":       outDeg,
		"param_count":      len(n.Parameters),
		"node_count":       len(wf.Nodes),
		"connection_count": len(wf.Connections),
	}
}

// Lint evaluates every rule against every node and returns all findings.
// Extra rules are appended to the base set for this call only.
func (l *Linter) Lint(ctx context.Context, wf *types.Workflow, extra ...Rule) ([]Finding, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	inDeg := make(map[string]int, len(wf.Nodes))
	outDeg := make(map[string]int, len(wf.Nodes))
	for _, c := range wf.Connections {
		outDeg[c.Source]++
		inDeg[c.Target]++
	}

	active := l.rules
	if len(extra) > 0 {
		active = append(append([]Rule{}, l.rules...), extra...)
	}

	var findings []Finding
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		env := nodeEnv(wf, n, inDeg[n.ID], outDeg[n.ID])
		for _, r := range active {
			hit, err := l.eval.Evaluate(r.When, env)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			if hit {
				findings = append(findings, Finding{
					Rule:     r.Name,
					Severity: r.Severity,
					NodeID:   n.ID,
					Message:  r.Message,
				})
			}
		}
	}
	return findings, nil
}
