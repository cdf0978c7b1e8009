package usecases

import (
	"context"

	"github.com/stepflow/stepflow/internal/core/flow"
	"github.com/stepflow/stepflow/internal/core/quota"
)

// FlowRepository abstracts the persistence collaborator.
// PRINCIPLES:
// - DIP: Use cases depend on this interface, never on a concrete store
// - ISP: Only the operations the lifecycle manager needs
type FlowRepository interface {
	// Save persists the full flow document.
	Save(ctx context.Context, f *flow.Flow) error
	// Get loads a flow by ID, or flow.ErrFlowNotFound.
	Get(ctx context.Context, id string) (*flow.Flow, error)
	// ListByOwner returns every flow belonging to an owner.
	ListByOwner(ctx context.Context, ownerID string) ([]*flow.Flow, error)
	// SetActive promotes one flow to live and demotes every other live
	// flow of the same owner, as a single atomic unit. No reader may
	// observe two live flows for one owner.
	SetActive(ctx context.Context, ownerID, flowID string) error
	// Delete removes a flow document.
	Delete(ctx context.Context, id string) error
}

// TierProvider abstracts the quota/membership collaborator. The payment
// collaborator feeds tier changes into it asynchronously; this core only
// reads.
type TierProvider interface {
	Tier(ctx context.Context, ownerID string) (quota.Tier, error)
}

// AccessLevel is the authorization level resolved by the identity
// collaborator. The core trusts this value as-is.
type AccessLevel string

const (
	AccessAdmin    AccessLevel = "admin"
	AccessCustomer AccessLevel = "customer"
	AccessNone     AccessLevel = "none"
)

// Identity is the resolved caller identity for one request.
type Identity struct {
	UserID      string      `json:"user_id"`
	AccessLevel AccessLevel `json:"access_level"`
}
