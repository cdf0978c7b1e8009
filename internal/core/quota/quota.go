// Package quota maps subscription tiers to structural limits.
package quota

// Tier is the two-valued subscription level of an owner
type Tier string

const (
	// TierFree is the default tier for owners without an active membership
	TierFree Tier = "free"
	// TierActive is granted by the payment collaborator
	TierActive Tier = "active"
)

// Limits bounds what an owner may build
type Limits struct {
	MaxFlows        int `json:"max_flows"`
	MaxNodesPerFlow int `json:"max_nodes_per_flow"`
}

// LimitsFor is a pure, total function over the tier domain.
// Unknown tiers are treated as free so the function never fails.
func LimitsFor(tier Tier) Limits {
	switch tier {
	case TierActive:
		return Limits{MaxFlows: 3, MaxNodesPerFlow: 30}
	default:
		return Limits{MaxFlows: 1, MaxNodesPerFlow: 5}
	}
}
