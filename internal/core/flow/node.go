// Package flow provides node definitions
package flow

// EndTarget is the sentinel connection target marking flow completion.
// It is a valid target everywhere a node or block ID is accepted.
const EndTarget = "__end__"

// ComponentType represents the type of a display component
type ComponentType string

const (
	// ComponentText represents a static text component
	ComponentText ComponentType = "text"
	// ComponentImage represents an image component
	ComponentImage ComponentType = "image"
	// ComponentVideo represents an embedded video component
	ComponentVideo ComponentType = "video"
	// ComponentQuestion represents a question whose answer lands in the
	// session response set under Field
	ComponentQuestion ComponentType = "question"
)

// Component is a single piece of content rendered on a node.
// Rendering is out of scope; the engine only cares about Field,
// which names the response key a question component collects.
type Component struct {
	Type  ComponentType `json:"type"`
	Body  string        `json:"body,omitempty"`
	Field string        `json:"field,omitempty"`
}

// Node represents a content step in a flow
// PRINCIPLES:
// - KISS: Simple node representation
// - SRP: Only responsible for node data, not routing
type Node struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Components  []Component `json:"components,omitempty"`
	Connections []string    `json:"connections,omitempty"`
}

// Validate ensures node integrity
func (n *Node) Validate() error {
	if n.ID == "" || n.ID == EndTarget {
		return ErrInvalidNodeID
	}
	for _, target := range n.Connections {
		if target == n.ID {
			return ErrSelfConnection
		}
	}
	return nil
}

// IsTerminal reports whether the node has no outgoing connections.
func (n *Node) IsTerminal() bool {
	return len(n.Connections) == 0
}
