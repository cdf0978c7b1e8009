// Package membership provides the quota/membership collaborator.
package membership

import (
	"context"
	"sync"

	"github.com/stepflow/stepflow/internal/core/quota"
)

// Record is one owner's membership state. Records are created lazily on
// first lookup and default to the free tier until the payment collaborator
// reports an upgrade.
type Record struct {
	OwnerID string     `json:"owner_id"`
	Tier    quota.Tier `json:"tier"`
}

// MemoryService is an in-memory TierProvider. The payment-event
// collaborator calls Upgrade/Downgrade asynchronously; the flow core only
// ever reads through Tier.
type MemoryService struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryService creates an empty membership service
func NewMemoryService() *MemoryService {
	return &MemoryService{records: make(map[string]*Record)}
}

// Tier resolves an owner's tier, lazily creating a free record.
func (s *MemoryService) Tier(ctx context.Context, ownerID string) (quota.Tier, error) {
	s.mu.RLock()
	rec, ok := s.records[ownerID]
	s.mu.RUnlock()
	if ok {
		return rec.Tier, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[ownerID]; ok {
		return rec.Tier, nil
	}
	s.records[ownerID] = &Record{OwnerID: ownerID, Tier: quota.TierFree}
	return quota.TierFree, nil
}

// Upgrade activates an owner's membership (payment received).
func (s *MemoryService) Upgrade(ctx context.Context, ownerID string) error {
	return s.set(ownerID, quota.TierActive)
}

// Downgrade reverts an owner to the free tier (subscription lapsed).
func (s *MemoryService) Downgrade(ctx context.Context, ownerID string) error {
	return s.set(ownerID, quota.TierFree)
}

func (s *MemoryService) set(ownerID string, tier quota.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ownerID] = &Record{OwnerID: ownerID, Tier: tier}
	return nil
}
