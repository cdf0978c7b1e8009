// Package flow defines domain-specific errors
package flow

import "errors"

// Domain errors - defined once, used everywhere
var (
	// Flow errors
	ErrFlowNotFound      = errors.New("flow not found")
	ErrInvalidFlowID     = errors.New("invalid flow ID")
	ErrInvalidFlowTitle  = errors.New("invalid flow title")
	ErrInvalidOwner      = errors.New("invalid owner ID")
	ErrNoEntryNode       = errors.New("flow has no entry node")
	ErrIllegalTransition = errors.New("illegal flow status transition")

	// Node errors
	ErrNilNode        = errors.New("node cannot be nil")
	ErrInvalidNodeID  = errors.New("invalid node ID")
	ErrNodeNotFound   = errors.New("node not found")
	ErrDuplicateNode  = errors.New("duplicate node ID")
	ErrNodeReferenced = errors.New("node is still referenced by a connection or branch")

	// Connection errors
	ErrUnknownTarget       = errors.New("connection target not found")
	ErrSelfConnection      = errors.New("node cannot target itself")
	ErrDuplicateConnection = errors.New("duplicate connection")

	// Logic block errors
	ErrNilBlock         = errors.New("logic block cannot be nil")
	ErrInvalidBlockID   = errors.New("invalid logic block ID")
	ErrInvalidBlockType = errors.New("invalid logic block type")
	ErrBlockNotFound    = errors.New("logic block not found")
	ErrDuplicateBlock   = errors.New("duplicate logic block ID")
	ErrBlockReferenced  = errors.New("logic block is still referenced by a connection or branch")
	ErrMissingBlockSpec = errors.New("logic block missing variant payload")
)
