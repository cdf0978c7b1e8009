package dto

import (
	"github.com/stepflow/stepflow/internal/core/flow"
)

// Responses maps question field keys to the values an end user submitted
// during one traversal. Values are scalars (string, bool, numeric).
type Responses map[string]interface{}

// NextStepRequest asks the routing engine for the step after CurrentID.
// An empty CurrentID requests the entry node.
type NextStepRequest struct {
	FlowID    string    `json:"flow_id"`
	CurrentID string    `json:"current_id,omitempty"`
	VisitorID string    `json:"visitor_id"`
	Responses Responses `json:"responses,omitempty"`
}

// NextStepResult is either the next content node or flow completion.
type NextStepResult struct {
	Node *flow.Node `json:"node,omitempty"`
	End  bool       `json:"end,omitempty"`
}

// Validate validates the next-step request
func (req *NextStepRequest) Validate() error {
	if req.FlowID == "" {
		return ErrMissingFlowID
	}
	if req.VisitorID == "" {
		return ErrMissingVisitorID
	}
	return nil
}
