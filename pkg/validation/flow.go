package validation

import (
	"fmt"
	"sort"

	"github.com/stepflow/stepflow/internal/core/flow"
	"github.com/stepflow/stepflow/internal/core/quota"
)

// ValidateFlow checks structural well-formedness of a flow against the
// owner's limits. Checks run in a fixed order and short-circuit on the
// first failing class while collecting every violation within that class:
//
//  1. entry node resolves and every connection/branch target resolves
//  2. every node is reachable from the entry node
//  3. no logic block has zero branches
//  4. every logic block can always select a branch: multi-path declares a
//     default, if-else conditions carry a field and a known operator, and
//     a-b-test arms have non-negative weights summing above zero
//  5. no node is its own connection target
//  6. node count within limits.MaxNodesPerFlow
//
// Cycles through logic blocks are permitted. ValidateFlow performs no
// mutation and returns nil or a non-empty Violations list.
func ValidateFlow(f *flow.Flow, limits quota.Limits) error {
	if f == nil {
		return Violations{{Kind: KindNoEntry, Subject: "flow", Message: "flow is nil"}}
	}

	if vs := checkReferences(f); len(vs) > 0 {
		return vs
	}
	if vs := checkReachability(f); len(vs) > 0 {
		return vs
	}
	if vs := checkBranchSets(f); len(vs) > 0 {
		return vs
	}
	if vs := checkBlockConfigs(f); len(vs) > 0 {
		return vs
	}
	if vs := checkSelfLoops(f); len(vs) > 0 {
		return vs
	}
	if len(f.Nodes) > limits.MaxNodesPerFlow {
		return Violations{{
			Kind:    KindQuotaExceeded,
			Subject: f.ID,
			Message: fmt.Sprintf("flow has %d nodes, tier allows %d nodes per flow", len(f.Nodes), limits.MaxNodesPerFlow),
		}}
	}
	return nil
}

// checkReferences collects every dangling connection or branch target.
func checkReferences(f *flow.Flow) Violations {
	var vs Violations

	if _, err := f.Entry(); err != nil {
		vs = append(vs, Violation{
			Kind:    KindNoEntry,
			Subject: f.ID,
			Message: "flow has no resolvable entry node",
		})
	}
	for _, n := range f.Nodes {
		for _, target := range n.Connections {
			if !f.HasTarget(target) {
				vs = append(vs, Violation{
					Kind:    KindDanglingReference,
					Subject: n.ID,
					Message: fmt.Sprintf("connection targets unknown id %q", target),
				})
			}
		}
	}
	for _, b := range f.Blocks {
		for _, target := range b.Branches() {
			if !f.HasTarget(target) {
				vs = append(vs, Violation{
					Kind:    KindDanglingReference,
					Subject: b.ID,
					Message: fmt.Sprintf("branch targets unknown id %q", target),
				})
			}
		}
	}
	return vs
}

// checkReachability walks connections and branches from the entry node
// and flags every node the walk never visits.
func checkReachability(f *flow.Flow) Violations {
	entry, err := f.Entry()
	if err != nil {
		return nil // reported by checkReferences
	}

	visited := make(map[string]bool, f.StepCount())
	queue := []string{entry.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == flow.EndTarget || visited[id] {
			continue
		}
		visited[id] = true

		if n, ok := f.NodeByID(id); ok {
			queue = append(queue, n.Connections...)
			continue
		}
		if b, ok := f.BlockByID(id); ok {
			queue = append(queue, b.Branches()...)
		}
	}

	var unreachable []string
	for _, n := range f.Nodes {
		if !visited[n.ID] {
			unreachable = append(unreachable, n.ID)
		}
	}
	sort.Strings(unreachable)

	var vs Violations
	for _, id := range unreachable {
		vs = append(vs, Violation{
			Kind:    KindUnreachableNode,
			Subject: id,
			Message: "node is unreachable from the entry node",
		})
	}
	return vs
}

func checkBranchSets(f *flow.Flow) Violations {
	var vs Violations
	for _, b := range f.Blocks {
		if len(b.Branches()) == 0 {
			vs = append(vs, Violation{
				Kind:    KindEmptyBranchSet,
				Subject: b.ID,
				Message: "logic block has no outgoing branches",
			})
		}
	}
	return vs
}

// checkBlockConfigs flags block payloads the routing engine would have to
// reject at traversal time. These are configuration defects: a live flow
// must be able to select a branch for every possible response set.
func checkBlockConfigs(f *flow.Flow) Violations {
	var vs Violations
	for _, b := range f.Blocks {
		switch b.Type {
		case flow.BlockIfElse:
			if b.IfElse == nil {
				continue // empty branch set, reported by checkBranchSets
			}
			if b.IfElse.Cond.Field == "" {
				vs = append(vs, Violation{
					Kind:    KindMalformedCondition,
					Subject: b.ID,
					Message: "if-else condition has an empty field",
				})
			}
			if !knownOp(b.IfElse.Cond.Op) {
				vs = append(vs, Violation{
					Kind:    KindMalformedCondition,
					Subject: b.ID,
					Message: fmt.Sprintf("if-else condition uses unknown operator %q", b.IfElse.Cond.Op),
				})
			}
		case flow.BlockMultiPath:
			if b.MultiPath == nil {
				continue
			}
			// Cases can never be exhaustive over free-form responses, so
			// a default is the only guarantee of a selectable branch.
			if b.MultiPath.Default == "" {
				vs = append(vs, Violation{
					Kind:    KindNoDefaultBranch,
					Subject: b.ID,
					Message: "multi-path block declares no default branch",
				})
			}
		case flow.BlockABTest:
			if b.ABTest == nil {
				continue
			}
			var total float64
			negative := false
			for _, arm := range b.ABTest.Arms {
				if arm.Weight < 0 {
					negative = true
				}
				total += arm.Weight
			}
			if negative {
				vs = append(vs, Violation{
					Kind:    KindMalformedSplit,
					Subject: b.ID,
					Message: "a-b-test arm has a negative weight",
				})
			} else if total <= 0 {
				vs = append(vs, Violation{
					Kind:    KindMalformedSplit,
					Subject: b.ID,
					Message: "a-b-test arm weights sum to zero",
				})
			}
		}
	}
	return vs
}

func knownOp(op flow.ConditionOp) bool {
	switch op {
	case flow.OpEquals, flow.OpNotEquals, flow.OpGreater, flow.OpGreaterOrEq,
		flow.OpLess, flow.OpLessOrEq, flow.OpContains, flow.OpTruthy:
		return true
	}
	return false
}

// checkSelfLoops flags nodes that target themselves. A plain node has no
// decision point, so a self-connection makes progress impossible.
func checkSelfLoops(f *flow.Flow) Violations {
	var vs Violations
	for _, n := range f.Nodes {
		for _, target := range n.Connections {
			if target == n.ID {
				vs = append(vs, Violation{
					Kind:    KindSelfLoop,
					Subject: n.ID,
					Message: "node is its own connection target",
				})
			}
		}
	}
	return vs
}
