package usecases

import (
	"fmt"
	"hash/fnv"

	"github.com/stepflow/stepflow/internal/app/dto"
	"github.com/stepflow/stepflow/internal/core/flow"
	"github.com/stepflow/stepflow/internal/infrastructure/metrics"
)

// Router is the conditional-routing engine. NextStep is a pure computation
// over its inputs: it mutates nothing and touches no store, so it is safe
// to call concurrently for different visitors. The caller persists the new
// position and the updated response set.
type Router struct {
	eval *ConditionEvaluator
}

// NewRouter creates a routing engine
func NewRouter() *Router {
	return &Router{eval: NewConditionEvaluator()}
}

// NextStep computes the step after currentID for one visitor. An empty
// currentID yields the entry node. Traversal through logic blocks is
// bounded by the flow's node+block count; exceeding it means the graph
// has a block cycle that never reaches a content node.
func (r *Router) NextStep(f *flow.Flow, currentID, visitorID string, responses dto.Responses) (*dto.NextStepResult, error) {
	if responses == nil {
		responses = dto.Responses{}
	}

	// Entry request: present the first node without advancing.
	if currentID == "" {
		entry, err := f.Entry()
		if err != nil {
			return nil, fmt.Errorf("%w: flow %q has no entry node", dto.ErrUnknownNode, f.ID)
		}
		metrics.IncTraversalSteps()
		return &dto.NextStepResult{Node: entry}, nil
	}

	target, err := r.leave(f, currentID)
	if err != nil {
		metrics.RoutingError("unknown_node")
		return nil, err
	}

	// Follow logic blocks until a content node or the end sentinel.
	budget := f.StepCount()
	for hops := 0; ; hops++ {
		if hops > budget {
			metrics.RoutingError("routing_loop")
			return nil, fmt.Errorf("%w: flow %q exceeded %d hops", dto.ErrRoutingLoop, f.ID, budget)
		}
		if target == flow.EndTarget {
			metrics.IncTraversalsEnded()
			return &dto.NextStepResult{End: true}, nil
		}
		if node, ok := f.NodeByID(target); ok {
			metrics.IncTraversalSteps()
			return &dto.NextStepResult{Node: node}, nil
		}
		block, ok := f.BlockByID(target)
		if !ok {
			metrics.RoutingError("unknown_node")
			return nil, fmt.Errorf("%w: id %q", dto.ErrUnknownNode, target)
		}
		target, err = r.evaluateBlock(f, block, visitorID, responses)
		if err != nil {
			metrics.RoutingError(string(block.Type))
			return nil, err
		}
	}
}

// leave resolves currentID and returns the first target beyond it.
func (r *Router) leave(f *flow.Flow, currentID string) (string, error) {
	if node, ok := f.NodeByID(currentID); ok {
		// Plain nodes never branch. Zero connections is a terminal;
		// with several, the first edge is the walk continuation and
		// any branching belongs to the logic block behind it.
		if node.IsTerminal() {
			return flow.EndTarget, nil
		}
		return node.Connections[0], nil
	}
	if _, ok := f.BlockByID(currentID); ok {
		// Resuming on a block ID re-enters its evaluation.
		return currentID, nil
	}
	return "", fmt.Errorf("%w: id %q", dto.ErrUnknownNode, currentID)
}

// evaluateBlock selects exactly one branch target per the block variant.
func (r *Router) evaluateBlock(f *flow.Flow, block *flow.LogicBlock, visitorID string, responses dto.Responses) (string, error) {
	metrics.BranchEvaluated(string(block.Type))

	switch block.Type {
	case flow.BlockIfElse:
		return r.evaluateIfElse(block, responses)
	case flow.BlockMultiPath:
		return r.evaluateMultiPath(block, responses)
	case flow.BlockScoreThreshold:
		return r.evaluateScore(block, responses)
	case flow.BlockABTest:
		return r.evaluateABTest(f.ID, block, visitorID)
	default:
		return "", fmt.Errorf("%w: block %q has type %q", dto.ErrMalformedBlock, block.ID, block.Type)
	}
}

func (r *Router) evaluateIfElse(block *flow.LogicBlock, responses dto.Responses) (string, error) {
	spec := block.IfElse
	if spec == nil {
		return "", fmt.Errorf("%w: block %q missing if-else payload", dto.ErrMalformedBlock, block.ID)
	}
	ok, err := r.eval.Evaluate(spec.Cond, responses)
	if err != nil {
		return "", fmt.Errorf("block %q: %w", block.ID, err)
	}
	if ok {
		return spec.TrueTarget, nil
	}
	return spec.FalseTarget, nil
}

func (r *Router) evaluateMultiPath(block *flow.LogicBlock, responses dto.Responses) (string, error) {
	spec := block.MultiPath
	if spec == nil {
		return "", fmt.Errorf("%w: block %q missing multi-path payload", dto.ErrMalformedBlock, block.ID)
	}
	value, present := responses[spec.Key]
	if present {
		discriminator := asString(value)
		for _, c := range spec.Cases {
			if c.When == discriminator {
				return c.Target, nil
			}
		}
	}
	if spec.Default == "" {
		return "", fmt.Errorf("%w: block %q key %q", dto.ErrNoDefaultBranch, block.ID, spec.Key)
	}
	return spec.Default, nil
}

// evaluateScore picks the bucket with the greatest threshold the score
// meets or exceeds; a score below every threshold takes the lowest
// bucket. Absent response fields contribute zero to the score.
func (r *Router) evaluateScore(block *flow.LogicBlock, responses dto.Responses) (string, error) {
	spec := block.Score
	if spec == nil || len(spec.Buckets) == 0 {
		return "", fmt.Errorf("%w: block %q has no score buckets", dto.ErrMalformedBlock, block.ID)
	}

	var score float64
	for _, w := range spec.Weights {
		if v, ok := responses[w.Field]; ok {
			if n, ok := asNumber(v); ok {
				score += w.Weight * n
			}
		}
	}

	chosen := spec.Buckets[0]
	lowest := spec.Buckets[0]
	matched := false
	for _, bucket := range spec.Buckets {
		if bucket.Threshold < lowest.Threshold {
			lowest = bucket
		}
		if score >= bucket.Threshold && (!matched || bucket.Threshold >= chosen.Threshold) {
			chosen = bucket
			matched = true
		}
	}
	if !matched {
		return lowest.Target, nil
	}
	return chosen.Target, nil
}

// evaluateABTest maps a stable hash of (flow, block, visitor) into [0,1)
// and selects the arm whose cumulative weight interval contains it, so a
// returning visitor always lands on the same branch.
func (r *Router) evaluateABTest(flowID string, block *flow.LogicBlock, visitorID string) (string, error) {
	spec := block.ABTest
	if spec == nil || len(spec.Arms) == 0 {
		return "", fmt.Errorf("%w: block %q has no split arms", dto.ErrMalformedBlock, block.ID)
	}

	var total float64
	for _, arm := range spec.Arms {
		if arm.Weight < 0 {
			return "", fmt.Errorf("%w: block %q arm %q has negative weight", dto.ErrMalformedBlock, block.ID, arm.Name)
		}
		total += arm.Weight
	}
	if total <= 0 {
		return "", fmt.Errorf("%w: block %q has zero total weight", dto.ErrMalformedBlock, block.ID)
	}

	point := splitPoint(flowID, block.ID, visitorID)
	var cumulative float64
	for _, arm := range spec.Arms {
		cumulative += arm.Weight / total
		if point < cumulative {
			return arm.Target, nil
		}
	}
	// float accumulation can land point a hair past the last boundary
	return spec.Arms[len(spec.Arms)-1].Target, nil
}

// splitPoint hashes the identity triple into [0,1) with FNV-1a. The top
// 53 bits keep the conversion to float64 exact.
func splitPoint(flowID, blockID, visitorID string) float64 {
	h := fnv.New64a()
	h.Write([]byte(flowID))
	h.Write([]byte{'|'})
	h.Write([]byte(blockID))
	h.Write([]byte{'|'})
	h.Write([]byte(visitorID))
	return float64(h.Sum64()>>11) / float64(uint64(1)<<53)
}
