// Package validation provides structural validation for stepflow graphs.
// A flow must pass ValidateFlow before it may be activated or traversed.
package validation

import (
	"fmt"
	"strings"
)

// Kind discriminates violation classes so callers can branch on the
// failure rather than parse messages.
type Kind string

const (
	// KindNoEntry means the flow has no resolvable entry node
	KindNoEntry Kind = "no_entry"
	// KindDanglingReference means a connection or branch targets a missing ID
	KindDanglingReference Kind = "dangling_reference"
	// KindUnreachableNode means a node cannot be reached from the entry node
	KindUnreachableNode Kind = "unreachable_node"
	// KindEmptyBranchSet means a logic block has zero outgoing branches
	KindEmptyBranchSet Kind = "empty_branch_set"
	// KindNoDefaultBranch means a multi-path block declares no default
	KindNoDefaultBranch Kind = "no_default_branch"
	// KindMalformedCondition means an if-else condition can never evaluate
	KindMalformedCondition Kind = "malformed_condition"
	// KindMalformedSplit means an a-b-test block cannot select an arm
	KindMalformedSplit Kind = "malformed_split"
	// KindSelfLoop means a node is its own connection target
	KindSelfLoop Kind = "self_loop"
	// KindQuotaExceeded means the flow exceeds the owner's node limit
	KindQuotaExceeded Kind = "quota_exceeded"
)

// Violation is a single validation failure tied to a graph element.
type Violation struct {
	Kind    Kind   `json:"kind"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s (%s): %s", v.Kind, v.Subject, v.Message)
}

// Violations is the ordered, non-empty result of a failed validation.
type Violations []Violation

func (vs Violations) Error() string {
	if len(vs) == 0 {
		return "no violations"
	}
	msgs := make([]string, len(vs))
	for i, v := range vs {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether any violation of the given kind is present.
func (vs Violations) Has(kind Kind) bool {
	for _, v := range vs {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

// Validator is implemented by types that can check their own integrity.
type Validator interface {
	Validate() error
}
