// Package memory provides an in-memory implementation of the flow
// repository, suitable for local usage and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/stepflow/stepflow/internal/core/flow"
	"github.com/stepflow/stepflow/pkg/serialization"
)

// FlowRepository stores serialized flow documents in a map. Documents are
// kept as encoded bytes so every Get hands out an isolated copy, exactly
// like a real store would.
// PRINCIPLES:
// - KISS: Simple map-based storage
// - Thread-safe; SetActive holds the write lock for the whole
//   promote/demote pair, which is what makes it atomic here
type FlowRepository struct {
	mu         sync.RWMutex
	documents  map[string][]byte
	serializer *serialization.FlowSerializer
}

// NewFlowRepository creates an empty in-memory repository.
func NewFlowRepository() *FlowRepository {
	return &FlowRepository{
		documents:  make(map[string][]byte),
		serializer: serialization.Default(),
	}
}

// Save persists the flow document.
func (r *FlowRepository) Save(ctx context.Context, f *flow.Flow) error {
	if f == nil {
		return flow.ErrFlowNotFound
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid flow: %w", err)
	}
	data, err := r.serializer.Marshal(f)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.documents[f.ID] = data
	r.mu.Unlock()
	return nil
}

// Get loads a flow by ID.
func (r *FlowRepository) Get(ctx context.Context, id string) (*flow.Flow, error) {
	r.mu.RLock()
	data, ok := r.documents[id]
	r.mu.RUnlock()
	if !ok {
		return nil, flow.ErrFlowNotFound
	}
	return r.serializer.Unmarshal(data)
}

// ListByOwner returns every flow belonging to an owner.
func (r *FlowRepository) ListByOwner(ctx context.Context, ownerID string) ([]*flow.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*flow.Flow
	for _, data := range r.documents {
		f, err := r.serializer.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		if f.OwnerID == ownerID {
			out = append(out, f)
		}
	}
	return out, nil
}

// SetActive promotes flowID to live and demotes every other live flow of
// the owner under one write lock, so no reader observes two live flows.
func (r *FlowRepository) SetActive(ctx context.Context, ownerID, flowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.documents[flowID]
	if !ok {
		return flow.ErrFlowNotFound
	}
	target, err := r.serializer.Unmarshal(data)
	if err != nil {
		return err
	}
	if target.OwnerID != ownerID {
		return flow.ErrFlowNotFound
	}

	for id, doc := range r.documents {
		if id == flowID {
			continue
		}
		f, err := r.serializer.Unmarshal(doc)
		if err != nil {
			return err
		}
		if f.OwnerID == ownerID && f.Status == flow.StatusLive {
			f.Status = flow.StatusDraft
			demoted, err := r.serializer.Marshal(f)
			if err != nil {
				return err
			}
			r.documents[id] = demoted
		}
	}

	target.Status = flow.StatusLive
	promoted, err := r.serializer.Marshal(target)
	if err != nil {
		return err
	}
	r.documents[flowID] = promoted
	return nil
}

// Delete removes a flow document.
func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.documents[id]; !ok {
		return flow.ErrFlowNotFound
	}
	delete(r.documents, id)
	return nil
}
