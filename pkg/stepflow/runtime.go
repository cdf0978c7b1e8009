package stepflow

import (
	"context"
	"log/slog"

	"github.com/stepflow/stepflow/internal/adapters/membership"
	memory "github.com/stepflow/stepflow/internal/adapters/repository/memory"
	"github.com/stepflow/stepflow/internal/app/dto"
	"github.com/stepflow/stepflow/internal/app/services"
	"github.com/stepflow/stepflow/internal/app/usecases"
	coreflow "github.com/stepflow/stepflow/internal/core/flow"
	"github.com/stepflow/stepflow/internal/core/quota"
	"github.com/stepflow/stepflow/pkg/validation"
)

// Re-export core flow types for convenience
type Flow = coreflow.Flow
type Node = coreflow.Node
type Component = coreflow.Component
type LogicBlock = coreflow.LogicBlock
type Condition = coreflow.Condition
type Status = coreflow.Status
type Responses = dto.Responses
type Session = services.Session

// EndTarget is the sentinel connection target marking flow completion.
const EndTarget = coreflow.EndTarget

// Runtime is a simple façade wiring the in-memory components together:
// flow repository, membership tiers, lifecycle, routing, and sessions.
// It is suitable for local usage and tests; servers assemble the same
// pieces around a persistent repository instead.
type Runtime struct {
	repo      *memory.FlowRepository
	tiers     *membership.MemoryService
	lifecycle *usecases.LifecycleService
	router    *usecases.Router
	sessions  *services.SessionService
}

// NewRuntime constructs a default runtime with in-memory services.
func NewRuntime(log *slog.Logger) *Runtime {
	repo := memory.NewFlowRepository()
	tiers := membership.NewMemoryService()
	return &Runtime{
		repo:      repo,
		tiers:     tiers,
		lifecycle: usecases.NewLifecycleService(repo, tiers, log),
		router:    usecases.NewRouter(),
		sessions:  services.NewSessionService(),
	}
}

// CreateFlow creates an empty draft flow for the owner.
func (rt *Runtime) CreateFlow(ctx context.Context, ownerID, title string) (*Flow, error) {
	return rt.lifecycle.CreateFlow(ctx, ownerID, title)
}

// SaveFlow persists an edited flow.
func (rt *Runtime) SaveFlow(ctx context.Context, f *Flow) error {
	return rt.repo.Save(ctx, f)
}

// GetFlow loads a flow by ID.
func (rt *Runtime) GetFlow(ctx context.Context, id string) (*Flow, error) {
	return rt.repo.Get(ctx, id)
}

// ListFlows returns the owner's flows.
func (rt *Runtime) ListFlows(ctx context.Context, ownerID string) ([]*Flow, error) {
	return rt.repo.ListByOwner(ctx, ownerID)
}

// Validate checks a flow against the owner's tier limits without
// changing its status.
func (rt *Runtime) Validate(ctx context.Context, f *Flow) error {
	tier, err := rt.tiers.Tier(ctx, f.OwnerID)
	if err != nil {
		return err
	}
	return validation.ValidateFlow(f, quota.LimitsFor(tier))
}

// Activate validates the flow and promotes it to live, demoting any
// other live flow of the same owner.
func (rt *Runtime) Activate(ctx context.Context, flowID string) error {
	return rt.lifecycle.Activate(ctx, flowID)
}

// Deactivate sets a live flow back to draft.
func (rt *Runtime) Deactivate(ctx context.Context, flowID string) error {
	return rt.lifecycle.Deactivate(ctx, flowID)
}

// Archive retires a flow; Restore brings it back to draft.
func (rt *Runtime) Archive(ctx context.Context, flowID string) error {
	return rt.lifecycle.Archive(ctx, flowID)
}

// Restore brings an archived flow back to draft.
func (rt *Runtime) Restore(ctx context.Context, flowID string) error {
	return rt.lifecycle.Restore(ctx, flowID)
}

// Upgrade activates the owner's membership tier.
func (rt *Runtime) Upgrade(ctx context.Context, ownerID string) error {
	return rt.tiers.Upgrade(ctx, ownerID)
}

// StartSession begins one visitor's traversal of a flow and returns the
// session together with the entry node.
func (rt *Runtime) StartSession(ctx context.Context, flowID, visitorID string) (*Session, *dto.NextStepResult, error) {
	f, err := rt.repo.Get(ctx, flowID)
	if err != nil {
		return nil, nil, err
	}
	session, err := rt.sessions.Start(ctx, flowID, visitorID)
	if err != nil {
		return nil, nil, err
	}
	result, err := rt.router.NextStep(f, "", visitorID, nil)
	if err != nil {
		return nil, nil, err
	}
	if result.Node != nil {
		if err := rt.sessions.Advance(ctx, session.ID, result.Node.ID); err != nil {
			return nil, nil, err
		}
		session.CurrentID = result.Node.ID
	}
	return session, result, nil
}

// Step records the visitor's answers and advances the session to the
// next content node. When the flow completes, the session is discarded
// and the result carries End.
func (rt *Runtime) Step(ctx context.Context, sessionID string, answers Responses) (*dto.NextStepResult, error) {
	session, err := rt.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		if err := rt.sessions.Submit(ctx, sessionID, answers); err != nil {
			return nil, err
		}
		for k, v := range answers {
			session.Responses[k] = v
		}
	}

	f, err := rt.repo.Get(ctx, session.FlowID)
	if err != nil {
		return nil, err
	}
	result, err := rt.router.NextStep(f, session.CurrentID, session.VisitorID, session.Responses)
	if err != nil {
		return nil, err
	}
	if result.End {
		if err := rt.sessions.End(ctx, sessionID); err != nil {
			return nil, err
		}
		return result, nil
	}
	if err := rt.sessions.Advance(ctx, sessionID, result.Node.ID); err != nil {
		return nil, err
	}
	return result, nil
}
