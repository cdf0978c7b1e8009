// Package redis implements the flow repository on Redis.
//
// Key structure:
//
//	<prefix>flow:<id>           => serialized flow document
//	<prefix>idx:owner:<owner>   => SET of the owner's flow IDs
//	<prefix>live:<owner>        => ID of the owner's live flow, if any
//
// The live:<owner> key is the single source of truth for the one-live-flow
// invariant; SetActive swaps it under WATCH so concurrent activations retry
// instead of leaving two live documents behind.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/stepflow/stepflow/internal/core/flow"
	"github.com/stepflow/stepflow/pkg/serialization"
)

// maxActivateRetries bounds optimistic SetActive retries under contention.
const maxActivateRetries = 16

var (
	errTooMuchContention = errors.New("activation retries exhausted")
	errStaleView         = errors.New("live pointer changed before watch")
)

// FlowStore is a flow repository backed by Redis.
type FlowStore struct {
	client     *redis.Client
	serializer *serialization.FlowSerializer
	prefix     string
}

// NewFlowStore creates a Redis flow store. prefix is optional but
// recommended (e.g. "stepflow:").
func NewFlowStore(client *redis.Client, prefix string) *FlowStore {
	if prefix == "" {
		prefix = "stepflow:"
	}
	return &FlowStore{
		client:     client,
		serializer: serialization.Default(),
		prefix:     prefix,
	}
}

func (s *FlowStore) keyFlow(id string) string {
	return s.prefix + "flow:" + id
}

func (s *FlowStore) keyOwnerIndex(ownerID string) string {
	return s.prefix + "idx:owner:" + ownerID
}

func (s *FlowStore) keyLive(ownerID string) string {
	return s.prefix + "live:" + ownerID
}

// Save persists the flow document and maintains the owner index.
func (s *FlowStore) Save(ctx context.Context, f *flow.Flow) error {
	if f == nil {
		return flow.ErrFlowNotFound
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid flow: %w", err)
	}
	data, err := s.serializer.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to serialize flow: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyFlow(f.ID), data, 0)
	pipe.SAdd(ctx, s.keyOwnerIndex(f.OwnerID), f.ID)
	if f.Status == flow.StatusLive {
		pipe.Set(ctx, s.keyLive(f.OwnerID), f.ID, 0)
	} else {
		// A flow leaving the live status must drop the pointer too, or a
		// later activation would demote whatever status it has moved to.
		prevID, err := s.client.Get(ctx, s.keyLive(f.OwnerID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read live pointer: %w", err)
		}
		if prevID == f.ID {
			pipe.Del(ctx, s.keyLive(f.OwnerID))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

// Get loads a flow by ID.
func (s *FlowStore) Get(ctx context.Context, id string) (*flow.Flow, error) {
	data, err := s.client.Get(ctx, s.keyFlow(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, flow.ErrFlowNotFound
		}
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}
	return s.serializer.Unmarshal(data)
}

// ListByOwner returns the owner's flows ordered by creation time.
func (s *FlowStore) ListByOwner(ctx context.Context, ownerID string) ([]*flow.Flow, error) {
	ids, err := s.client.SMembers(ctx, s.keyOwnerIndex(ownerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyFlow(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var flows []*flow.Flow
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Stale index entry; drop it and move on.
				s.client.SRem(ctx, s.keyOwnerIndex(ownerID), ids[i])
				continue
			}
			return nil, err
		}
		f, err := s.serializer.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].CreatedAt.Equal(flows[j].CreatedAt) {
			return flows[i].ID < flows[j].ID
		}
		return flows[i].CreatedAt.Before(flows[j].CreatedAt)
	})
	return flows, nil
}

// SetActive promotes flowID and demotes the owner's previous live flow.
// The swap is optimistic: the live pointer, the target document, and the
// document the pointer names are all watched, so a concurrent writer on
// any of them causes the whole attempt to be retried from scratch.
func (s *FlowStore) SetActive(ctx context.Context, ownerID, flowID string) error {
	liveKey := s.keyLive(ownerID)
	targetKey := s.keyFlow(flowID)

	swap := func(tx *redis.Tx, watchedPrevID string) error {
		data, err := tx.Get(ctx, targetKey).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return flow.ErrFlowNotFound
			}
			return err
		}
		target, err := s.serializer.Unmarshal(data)
		if err != nil {
			return err
		}
		if target.OwnerID != ownerID {
			return flow.ErrFlowNotFound
		}

		prevID, err := tx.Get(ctx, liveKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if prevID != watchedPrevID {
			// The pointer moved between the pre-read and the watch, so
			// the watched key set no longer covers the right document.
			return errStaleView
		}

		var demoted []byte
		if prevID != "" && prevID != flowID {
			prevData, err := tx.Get(ctx, s.keyFlow(prevID)).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if prevData != nil {
				prev, err := s.serializer.Unmarshal(prevData)
				if err != nil {
					return err
				}
				// Demote only a flow that is actually live. A stale
				// pointer must never pull an archived or draft flow
				// back through the state machine.
				if prev.Status == flow.StatusLive {
					prev.Status = flow.StatusDraft
					demoted, err = s.serializer.Marshal(prev)
					if err != nil {
						return err
					}
				}
			}
		}

		target.Status = flow.StatusLive
		promoted, err := s.serializer.Marshal(target)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if demoted != nil {
				pipe.Set(ctx, s.keyFlow(prevID), demoted, 0)
			}
			pipe.Set(ctx, targetKey, promoted, 0)
			pipe.Set(ctx, liveKey, flowID, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxActivateRetries; i++ {
		prevID, err := s.client.Get(ctx, liveKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		keys := []string{liveKey, targetKey}
		if prevID != "" && prevID != flowID {
			keys = append(keys, s.keyFlow(prevID))
		}
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			return swap(tx, prevID)
		}, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) || errors.Is(err, errStaleView) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to activate flow %s: %w", flowID, errTooMuchContention)
}

// Delete removes a flow document and its index entries.
func (s *FlowStore) Delete(ctx context.Context, id string) error {
	f, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyFlow(id))
	pipe.SRem(ctx, s.keyOwnerIndex(f.OwnerID), id)
	if f.Status == flow.StatusLive {
		pipe.Del(ctx, s.keyLive(f.OwnerID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *FlowStore) Close() error {
	return s.client.Close()
}
