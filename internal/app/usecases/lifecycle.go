package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stepflow/stepflow/internal/core/flow"
	"github.com/stepflow/stepflow/internal/core/quota"
	"github.com/stepflow/stepflow/internal/infrastructure/metrics"
	"github.com/stepflow/stepflow/internal/logging"
	"github.com/stepflow/stepflow/pkg/validation"
)

// Lifecycle errors
var (
	// ErrQuotaExceeded rejects creation beyond the owner's flow limit.
	ErrQuotaExceeded = errors.New("flow quota exceeded")
)

// LifecycleService orchestrates flow creation, activation, and archival.
// It gates every activation on the structural validator and the owner's
// tier limits, and delegates the atomic promote/demote to the repository
// so no reader ever observes two live flows for one owner.
type LifecycleService struct {
	repo  FlowRepository
	tiers TierProvider
	log   *slog.Logger
}

// NewLifecycleService creates a lifecycle service.
func NewLifecycleService(repo FlowRepository, tiers TierProvider, log *slog.Logger) *LifecycleService {
	if log == nil {
		log = logging.NewNop()
	}
	return &LifecycleService{repo: repo, tiers: tiers, log: log}
}

// CreateFlow creates an empty draft flow, rejecting owners already at
// their tier's flow limit. Archived flows do not count against the limit.
func (s *LifecycleService) CreateFlow(ctx context.Context, ownerID, title string) (*flow.Flow, error) {
	limits, err := s.limitsFor(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list flows for owner %q: %w", ownerID, err)
	}
	active := 0
	for _, f := range existing {
		if f.Status != flow.StatusArchived {
			active++
		}
	}
	if active >= limits.MaxFlows {
		return nil, fmt.Errorf("%w: owner %q already has %d of %d flows; archive one or upgrade the membership tier",
			ErrQuotaExceeded, ownerID, active, limits.MaxFlows)
	}

	now := time.Now()
	f := &flow.Flow{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Title:     title,
		Status:    flow.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, f); err != nil {
		return nil, fmt.Errorf("save flow %q: %w", f.ID, err)
	}

	s.log.Info("flow created", "flow_id", f.ID, "owner_id", ownerID)
	return f, nil
}

// Activate validates the flow and promotes it to live, atomically
// demoting any other live flow of the same owner. On validation failure
// the violation list is returned and the status is left unchanged.
func (s *LifecycleService) Activate(ctx context.Context, flowID string) error {
	f, err := s.repo.Get(ctx, flowID)
	if err != nil {
		return err
	}
	if f.Status == flow.StatusLive {
		return nil // already live, nothing to do
	}
	if !flow.CanTransition(f.Status, flow.StatusLive) {
		return fmt.Errorf("%w: %s -> %s (restore the flow to draft first)",
			flow.ErrIllegalTransition, f.Status, flow.StatusLive)
	}

	limits, err := s.limitsFor(ctx, f.OwnerID)
	if err != nil {
		return err
	}
	if err := validation.ValidateFlow(f, limits); err != nil {
		s.log.Warn("activation rejected", "flow_id", flowID, "err", err)
		return err
	}

	if err := s.repo.SetActive(ctx, f.OwnerID, f.ID); err != nil {
		return fmt.Errorf("activate flow %q: %w", flowID, err)
	}
	metrics.IncFlowActivations()
	s.log.Info("flow activated", "flow_id", flowID, "owner_id", f.OwnerID)
	return nil
}

// Deactivate sets the flow back to draft. It succeeds whenever the flow
// exists.
func (s *LifecycleService) Deactivate(ctx context.Context, flowID string) error {
	return s.transition(ctx, flowID, flow.StatusDraft)
}

// Archive retires the flow. Archiving a live flow implicitly deactivates
// it; an archived flow must be restored to draft before reactivation.
func (s *LifecycleService) Archive(ctx context.Context, flowID string) error {
	return s.transition(ctx, flowID, flow.StatusArchived)
}

// Restore brings an archived flow back to draft.
func (s *LifecycleService) Restore(ctx context.Context, flowID string) error {
	f, err := s.repo.Get(ctx, flowID)
	if err != nil {
		return err
	}
	if f.Status != flow.StatusArchived {
		return fmt.Errorf("%w: restore applies to archived flows, not %s", flow.ErrIllegalTransition, f.Status)
	}
	return s.transition(ctx, flowID, flow.StatusDraft)
}

func (s *LifecycleService) transition(ctx context.Context, flowID string, to flow.Status) error {
	f, err := s.repo.Get(ctx, flowID)
	if err != nil {
		return err
	}
	if f.Status == to {
		return nil
	}
	if !flow.CanTransition(f.Status, to) {
		return fmt.Errorf("%w: %s -> %s", flow.ErrIllegalTransition, f.Status, to)
	}
	f.Status = to
	f.UpdatedAt = time.Now()
	if err := s.repo.Save(ctx, f); err != nil {
		return fmt.Errorf("save flow %q: %w", flowID, err)
	}
	s.log.Info("flow status changed", "flow_id", flowID, "status", to)
	return nil
}

func (s *LifecycleService) limitsFor(ctx context.Context, ownerID string) (quota.Limits, error) {
	tier, err := s.tiers.Tier(ctx, ownerID)
	if err != nil {
		return quota.Limits{}, fmt.Errorf("resolve tier for owner %q: %w", ownerID, err)
	}
	return quota.LimitsFor(tier), nil
}
