// Package flow provides the core onboarding-flow domain entities
// following Clean Architecture principles with zero external dependencies.
package flow

import (
	"time"
)

// Status is the lifecycle state of a flow
type Status string

const (
	// StatusDraft is the initial, editable state
	StatusDraft Status = "draft"
	// StatusLive marks the single flow per owner presented to end users
	StatusLive Status = "live"
	// StatusArchived flows must be restored to draft before reactivation
	StatusArchived Status = "archived"
)

// CanTransition reports whether a status change is legal.
// Draft <-> Live, Draft -> Archived, Live -> Archived, Archived -> Draft.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusLive || to == StatusArchived
	case StatusLive:
		return to == StatusDraft || to == StatusArchived
	case StatusArchived:
		return to == StatusDraft
	default:
		return false
	}
}

// Flow represents the core flow aggregate: ordered content nodes plus
// logic blocks, connected by ID references. Edges are resolved by lookup,
// never by embedded pointers, so block cycles are plain data.
// PRINCIPLES:
// - KISS: Simple struct, no complex hierarchies
// - SRP: Only responsible for graph structure, not routing
type Flow struct {
	ID         string        `json:"id"`
	OwnerID    string        `json:"owner_id"`
	Title      string        `json:"title"`
	Status     Status        `json:"status"`
	Nodes      []*Node       `json:"nodes"`
	Blocks     []*LogicBlock `json:"blocks,omitempty"`
	EntryPoint string        `json:"entry_point,omitempty"`
	Icon       string        `json:"icon,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Validate ensures basic flow integrity
func (f *Flow) Validate() error {
	if f.ID == "" {
		return ErrInvalidFlowID
	}
	if f.OwnerID == "" {
		return ErrInvalidOwner
	}
	if f.Title == "" {
		return ErrInvalidFlowTitle
	}
	return nil
}

// Entry returns the entry node: the designated EntryPoint if set,
// otherwise the first node.
func (f *Flow) Entry() (*Node, error) {
	if f.EntryPoint != "" {
		n, ok := f.NodeByID(f.EntryPoint)
		if !ok {
			return nil, ErrNoEntryNode
		}
		return n, nil
	}
	if len(f.Nodes) == 0 {
		return nil, ErrNoEntryNode
	}
	return f.Nodes[0], nil
}

// NodeByID resolves a node by ID.
func (f *Flow) NodeByID(id string) (*Node, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// BlockByID resolves a logic block by ID.
func (f *Flow) BlockByID(id string) (*LogicBlock, bool) {
	for _, b := range f.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

// HasTarget reports whether id resolves to a node, a logic block,
// or the end sentinel.
func (f *Flow) HasTarget(id string) bool {
	if id == EndTarget {
		return true
	}
	if _, ok := f.NodeByID(id); ok {
		return true
	}
	_, ok := f.BlockByID(id)
	return ok
}

// StepCount is the total node + block count, the hop bound for one
// routing call.
func (f *Flow) StepCount() int {
	return len(f.Nodes) + len(f.Blocks)
}

// AddNode appends a node to the flow
func (f *Flow) AddNode(node *Node) error {
	if node == nil {
		return ErrNilNode
	}
	if err := node.Validate(); err != nil {
		return err
	}
	if _, exists := f.NodeByID(node.ID); exists {
		return ErrDuplicateNode
	}
	if _, exists := f.BlockByID(node.ID); exists {
		return ErrDuplicateNode
	}
	f.Nodes = append(f.Nodes, node)
	f.UpdatedAt = time.Now()
	return nil
}

// RemoveNode deletes a node. It fails with ErrNodeReferenced while any
// other node connection or block branch still targets it; the caller must
// redirect those references first so the graph never dangles mid-edit.
func (f *Flow) RemoveNode(id string) error {
	idx := -1
	for i, n := range f.Nodes {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrNodeNotFound
	}
	if f.referenced(id) {
		return ErrNodeReferenced
	}
	f.Nodes = append(f.Nodes[:idx], f.Nodes[idx+1:]...)
	f.UpdatedAt = time.Now()
	return nil
}

// AddConnection appends an outgoing connection from a node to a node,
// logic block, or the end sentinel.
func (f *Flow) AddConnection(from, to string) error {
	node, ok := f.NodeByID(from)
	if !ok {
		return ErrNodeNotFound
	}
	if from == to {
		return ErrSelfConnection
	}
	if !f.HasTarget(to) {
		return ErrUnknownTarget
	}
	for _, existing := range node.Connections {
		if existing == to {
			return ErrDuplicateConnection
		}
	}
	node.Connections = append(node.Connections, to)
	f.UpdatedAt = time.Now()
	return nil
}

// AddLogicBlock appends a logic block to the flow
func (f *Flow) AddLogicBlock(block *LogicBlock) error {
	if block == nil {
		return ErrNilBlock
	}
	if err := block.Validate(); err != nil {
		return err
	}
	if _, exists := f.BlockByID(block.ID); exists {
		return ErrDuplicateBlock
	}
	if _, exists := f.NodeByID(block.ID); exists {
		return ErrDuplicateBlock
	}
	f.Blocks = append(f.Blocks, block)
	f.UpdatedAt = time.Now()
	return nil
}

// RemoveLogicBlock deletes a block, with the same referential-integrity
// guard as RemoveNode.
func (f *Flow) RemoveLogicBlock(id string) error {
	idx := -1
	for i, b := range f.Blocks {
		if b.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrBlockNotFound
	}
	if f.referenced(id) {
		return ErrBlockReferenced
	}
	f.Blocks = append(f.Blocks[:idx], f.Blocks[idx+1:]...)
	f.UpdatedAt = time.Now()
	return nil
}

// referenced reports whether any connection or branch targets id.
func (f *Flow) referenced(id string) bool {
	for _, n := range f.Nodes {
		if n.ID == id {
			continue
		}
		for _, target := range n.Connections {
			if target == id {
				return true
			}
		}
	}
	for _, b := range f.Blocks {
		if b.ID == id {
			continue
		}
		for _, target := range b.Branches() {
			if target == id {
				return true
			}
		}
	}
	return false
}
