package dto

import "errors"

// Request errors
var (
	ErrMissingFlowID    = errors.New("flow ID is required")
	ErrMissingVisitorID = errors.New("visitor ID is required")
)

// Routing errors. These surface configuration defects the validator should
// have caught before activation; the engine rejects rather than guessing a
// branch.
var (
	ErrUnknownNode         = errors.New("current step not found in flow")
	ErrConditionEvaluation = errors.New("malformed condition expression")
	ErrNoDefaultBranch     = errors.New("no case matched and no default branch declared")
	ErrMalformedBlock      = errors.New("logic block cannot select a branch")
	ErrRoutingLoop         = errors.New("routing exceeded the flow step budget")
)
