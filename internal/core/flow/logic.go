// Package flow provides logic block definitions
package flow

// BlockType represents the routing variant of a logic block
type BlockType string

const (
	// BlockIfElse evaluates one boolean condition with two branches
	BlockIfElse BlockType = "if-else"
	// BlockMultiPath matches a discriminator value against declared cases
	BlockMultiPath BlockType = "multi-path"
	// BlockScoreThreshold buckets a weighted response score
	BlockScoreThreshold BlockType = "score-threshold"
	// BlockABTest splits traffic deterministically by visitor identity
	BlockABTest BlockType = "a-b-test"
)

// ConditionOp is a comparison operator in an if-else condition
type ConditionOp string

const (
	OpEquals      ConditionOp = "eq"
	OpNotEquals   ConditionOp = "neq"
	OpGreater     ConditionOp = "gt"
	OpGreaterOrEq ConditionOp = "gte"
	OpLess        ConditionOp = "lt"
	OpLessOrEq    ConditionOp = "lte"
	OpContains    ConditionOp = "contains"
	OpTruthy      ConditionOp = "truthy"
)

// Condition is a single boolean predicate over the session response set.
// A missing response field makes the condition false rather than an error;
// only a structurally malformed condition is a defect.
type Condition struct {
	Field string      `json:"field"`
	Op    ConditionOp `json:"op"`
	Value interface{} `json:"value,omitempty"`
}

// IfElseSpec holds the payload of an if-else block
type IfElseSpec struct {
	Cond        Condition `json:"cond"`
	TrueTarget  string    `json:"true_target"`
	FalseTarget string    `json:"false_target"`
}

// PathCase maps one discriminator value to a branch target
type PathCase struct {
	When   string `json:"when"`
	Target string `json:"target"`
}

// MultiPathSpec holds the payload of a multi-path block
type MultiPathSpec struct {
	Key     string     `json:"key"`
	Cases   []PathCase `json:"cases"`
	Default string     `json:"default,omitempty"`
}

// FieldWeight contributes Weight * numeric(response[Field]) to a score
type FieldWeight struct {
	Field  string  `json:"field"`
	Weight float64 `json:"weight"`
}

// ScoreBucket selects Target when the computed score meets Threshold.
// Buckets are declared in ascending threshold order; the highest
// qualifying bucket wins.
type ScoreBucket struct {
	Threshold float64 `json:"threshold"`
	Target    string  `json:"target"`
}

// ScoreSpec holds the payload of a score-threshold block
type ScoreSpec struct {
	Weights []FieldWeight `json:"weights"`
	Buckets []ScoreBucket `json:"buckets"`
}

// SplitArm is one weighted branch of an a-b-test block
type SplitArm struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Target string  `json:"target"`
}

// ABTestSpec holds the payload of an a-b-test block
type ABTestSpec struct {
	Arms []SplitArm `json:"arms"`
}

// LogicBlock is a routing decision point. The four variants form a closed
// set: evaluation is an exhaustive switch over Type, and exactly one of the
// spec pointers is populated for a well-formed block.
type LogicBlock struct {
	ID        string         `json:"id"`
	Type      BlockType      `json:"type"`
	IfElse    *IfElseSpec    `json:"if_else,omitempty"`
	MultiPath *MultiPathSpec `json:"multi_path,omitempty"`
	Score     *ScoreSpec     `json:"score,omitempty"`
	ABTest    *ABTestSpec    `json:"ab_test,omitempty"`
}

// Validate ensures block integrity
func (b *LogicBlock) Validate() error {
	if b.ID == "" || b.ID == EndTarget {
		return ErrInvalidBlockID
	}
	switch b.Type {
	case BlockIfElse:
		if b.IfElse == nil {
			return ErrMissingBlockSpec
		}
	case BlockMultiPath:
		if b.MultiPath == nil {
			return ErrMissingBlockSpec
		}
	case BlockScoreThreshold:
		if b.Score == nil {
			return ErrMissingBlockSpec
		}
	case BlockABTest:
		if b.ABTest == nil {
			return ErrMissingBlockSpec
		}
	default:
		return ErrInvalidBlockType
	}
	return nil
}

// Branches returns the outgoing targets of the block in declared order.
// An empty result means the block is malformed for routing purposes.
func (b *LogicBlock) Branches() []string {
	switch b.Type {
	case BlockIfElse:
		if b.IfElse == nil {
			return nil
		}
		return []string{b.IfElse.TrueTarget, b.IfElse.FalseTarget}
	case BlockMultiPath:
		if b.MultiPath == nil {
			return nil
		}
		targets := make([]string, 0, len(b.MultiPath.Cases)+1)
		for _, c := range b.MultiPath.Cases {
			targets = append(targets, c.Target)
		}
		if b.MultiPath.Default != "" {
			targets = append(targets, b.MultiPath.Default)
		}
		return targets
	case BlockScoreThreshold:
		if b.Score == nil {
			return nil
		}
		targets := make([]string, 0, len(b.Score.Buckets))
		for _, bucket := range b.Score.Buckets {
			targets = append(targets, bucket.Target)
		}
		return targets
	case BlockABTest:
		if b.ABTest == nil {
			return nil
		}
		targets := make([]string, 0, len(b.ABTest.Arms))
		for _, arm := range b.ABTest.Arms {
			targets = append(targets, arm.Target)
		}
		return targets
	default:
		return nil
	}
}
