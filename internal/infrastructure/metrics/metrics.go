package metrics

import (
	"expvar"
)

// Routing metrics (counters) using expvar maps keyed by block type.
var (
	branchEvaluations = expvar.NewMap("stepflow_branch_evaluations_total")
	routingErrors     = expvar.NewMap("stepflow_routing_errors_total")
)

// Traversal / lifecycle metrics.
var (
	traversalSteps  = new(expvar.Int)
	traversalsEnded = new(expvar.Int)
	flowActivations = new(expvar.Int)
)

func init() {
	expvar.Publish("stepflow_traversal_steps_total", traversalSteps)
	expvar.Publish("stepflow_traversals_completed_total", traversalsEnded)
	expvar.Publish("stepflow_flow_activations_total", flowActivations)
}

// Routing helpers
func BranchEvaluated(blockType string) { branchEvaluations.Add(blockType, 1) }
func RoutingError(kind string)         { routingErrors.Add(kind, 1) }

// Traversal/lifecycle helpers
func IncTraversalSteps()  { traversalSteps.Add(1) }
func IncTraversalsEnded() { traversalsEnded.Add(1) }
func IncFlowActivations() { flowActivations.Add(1) }
