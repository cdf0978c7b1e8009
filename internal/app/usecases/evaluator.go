package usecases

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stepflow/stepflow/internal/app/dto"
	"github.com/stepflow/stepflow/internal/core/flow"
)

// ConditionEvaluator evaluates if-else conditions against a response set
// PRINCIPLES:
// - SRP: Only responsible for condition evaluation
// - A missing response field means "condition not met", never an error:
//   a visitor's traversal must stay resolvable when upstream UI skipped
//   a question. Only a malformed condition is rejected, since that is a
//   configuration defect rather than a user-data gap.
type ConditionEvaluator struct{}

// NewConditionEvaluator creates a new condition evaluator
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{}
}

// Evaluate returns whether the condition holds over the responses.
func (e *ConditionEvaluator) Evaluate(cond flow.Condition, responses dto.Responses) (bool, error) {
	if cond.Field == "" {
		return false, fmt.Errorf("%w: empty field", dto.ErrConditionEvaluation)
	}
	switch cond.Op {
	case flow.OpEquals, flow.OpNotEquals, flow.OpGreater, flow.OpGreaterOrEq,
		flow.OpLess, flow.OpLessOrEq, flow.OpContains, flow.OpTruthy:
	default:
		return false, fmt.Errorf("%w: unknown operator %q", dto.ErrConditionEvaluation, cond.Op)
	}

	value, present := responses[cond.Field]
	if !present {
		return false, nil
	}

	switch cond.Op {
	case flow.OpEquals:
		return equal(value, cond.Value), nil
	case flow.OpNotEquals:
		return !equal(value, cond.Value), nil
	case flow.OpGreater, flow.OpGreaterOrEq, flow.OpLess, flow.OpLessOrEq:
		left, lok := asNumber(value)
		right, rok := asNumber(cond.Value)
		if !lok || !rok {
			// non-numeric operand: condition not met
			return false, nil
		}
		switch cond.Op {
		case flow.OpGreater:
			return left > right, nil
		case flow.OpGreaterOrEq:
			return left >= right, nil
		case flow.OpLess:
			return left < right, nil
		default:
			return left <= right, nil
		}
	case flow.OpContains:
		return strings.Contains(asString(value), asString(cond.Value)), nil
	default: // OpTruthy
		return truthy(value), nil
	}
}

// equal compares numerically when both sides are numeric, otherwise by
// string form, so JSON-decoded float64s still match integer literals.
func equal(a, b interface{}) bool {
	if fa, ok := asNumber(a); ok {
		if fb, ok := asNumber(b); ok {
			return fa == fb
		}
	}
	return asString(a) == asString(b)
}

// asNumber coerces a response scalar to float64.
func asNumber(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// truthy mirrors the leniency policy: booleans as-is, numbers non-zero,
// strings non-empty and not literal "false".
func truthy(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x != "" && !strings.EqualFold(x, "false")
	default:
		if f, ok := asNumber(v); ok {
			return f != 0
		}
		return v != nil
	}
}
