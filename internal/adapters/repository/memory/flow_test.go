package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/stepflow/internal/core/flow"
)

func testFlow(t *testing.T, id, owner string, status flow.Status) *flow.Flow {
	t.Helper()
	f := &flow.Flow{
		ID:        id,
		OwnerID:   owner,
		Title:     "Onboarding " + id,
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.AddNode(&flow.Node{ID: "welcome", Title: "Welcome"}))
	require.NoError(t, f.AddNode(&flow.Node{ID: "done", Title: "Done"}))
	require.NoError(t, f.AddConnection("welcome", "done"))
	f.EntryPoint = "welcome"
	return f
}

func TestFlowRepository_SaveAndGet(t *testing.T) {
	repo := NewFlowRepository()
	ctx := context.Background()

	f := testFlow(t, "flow-1", "owner-1", flow.StatusDraft)
	require.NoError(t, repo.Save(ctx, f))

	loaded, err := repo.Get(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, f.ID, loaded.ID)
	assert.Equal(t, f.OwnerID, loaded.OwnerID)
	assert.Equal(t, f.Status, loaded.Status)
	assert.Len(t, loaded.Nodes, 2)
	assert.Equal(t, []string{"done"}, loaded.Nodes[0].Connections)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, flow.ErrFlowNotFound)
}

func TestFlowRepository_GetReturnsIsolatedCopy(t *testing.T) {
	repo := NewFlowRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testFlow(t, "flow-1", "owner-1", flow.StatusDraft)))

	first, err := repo.Get(ctx, "flow-1")
	require.NoError(t, err)
	first.Title = "mutated"
	first.Nodes[0].Connections = nil

	second, err := repo.Get(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "Onboarding flow-1", second.Title)
	assert.Equal(t, []string{"done"}, second.Nodes[0].Connections)
}

func TestFlowRepository_SaveRejectsInvalid(t *testing.T) {
	repo := NewFlowRepository()
	ctx := context.Background()

	err := repo.Save(ctx, &flow.Flow{OwnerID: "owner-1", Title: "no id"})
	assert.ErrorIs(t, err, flow.ErrInvalidFlowID)
	assert.ErrorIs(t, repo.Save(ctx, nil), flow.ErrFlowNotFound)
}

func TestFlowRepository_ListByOwner(t *testing.T) {
	repo := NewFlowRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testFlow(t, "flow-1", "owner-1", flow.StatusDraft)))
	require.NoError(t, repo.Save(ctx, testFlow(t, "flow-2", "owner-1", flow.StatusLive)))
	require.NoError(t, repo.Save(ctx, testFlow(t, "flow-3", "owner-2", flow.StatusDraft)))

	flows, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, flows, 2)

	flows, err = repo.ListByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestFlowRepository_SetActive(t *testing.T) {
	repo := NewFlowRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testFlow(t, "flow-1", "owner-1", flow.StatusLive)))
	require.NoError(t, repo.Save(ctx, testFlow(t, "flow-2", "owner-1", flow.StatusDraft)))
	require.NoError(t, repo.Save(ctx, testFlow(t, "flow-3", "owner-2", flow.StatusLive)))

	require.NoError(t, repo.SetActive(ctx, "owner-1", "flow-2"))

	demoted, err := repo.Get(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, flow.StatusDraft, demoted.Status)

	promoted, err := repo.Get(ctx, "flow-2")
	require.NoError(t, err)
	assert.Equal(t, flow.StatusLive, promoted.Status)

	// Other owners are untouched.
	other, err := repo.Get(ctx, "flow-3")
	require.NoError(t, err)
	assert.Equal(t, flow.StatusLive, other.Status)
}

func TestFlowRepository_SetActiveOwnership(t *testing.T) {
	repo := NewFlowRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testFlow(t, "flow-1", "owner-1", flow.StatusDraft)))

	assert.ErrorIs(t, repo.SetActive(ctx, "owner-2", "flow-1"), flow.ErrFlowNotFound)
	assert.ErrorIs(t, repo.SetActive(ctx, "owner-1", "missing"), flow.ErrFlowNotFound)
}

func TestFlowRepository_SetActiveConcurrent(t *testing.T) {
	repo := NewFlowRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testFlow(t, "flow-a", "owner-1", flow.StatusDraft)))
	require.NoError(t, repo.Save(ctx, testFlow(t, "flow-b", "owner-1", flow.StatusDraft)))

	done := make(chan error, 2)
	go func() { done <- repo.SetActive(ctx, "owner-1", "flow-a") }()
	go func() { done <- repo.SetActive(ctx, "owner-1", "flow-b") }()
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	flows, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	live := 0
	for _, f := range flows {
		if f.Status == flow.StatusLive {
			live++
		}
	}
	assert.Equal(t, 1, live, "exactly one flow may be live per owner")
}

func TestFlowRepository_Delete(t *testing.T) {
	repo := NewFlowRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testFlow(t, "flow-1", "owner-1", flow.StatusDraft)))
	require.NoError(t, repo.Delete(ctx, "flow-1"))

	_, err := repo.Get(ctx, "flow-1")
	assert.ErrorIs(t, err, flow.ErrFlowNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "flow-1"), flow.ErrFlowNotFound)
}
