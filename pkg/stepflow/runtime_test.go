package stepflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreflow "github.com/stepflow/stepflow/internal/core/flow"
	"github.com/stepflow/stepflow/pkg/validation"
)

// buildSurvey assembles and activates a small branching flow through the
// public façade only.
func buildSurvey(t *testing.T, rt *Runtime) *Flow {
	t.Helper()
	ctx := context.Background()

	f, err := rt.CreateFlow(ctx, "owner-1", "Product Survey")
	require.NoError(t, err)

	require.NoError(t, f.AddNode(&Node{ID: "welcome", Title: "Welcome", Components: []Component{
		{Type: coreflow.ComponentQuestion, Body: "Interested?", Field: "interest"},
	}}))
	require.NoError(t, f.AddNode(&Node{ID: "features", Title: "Features"}))
	require.NoError(t, f.AddNode(&Node{ID: "goodbye", Title: "Goodbye"}))
	require.NoError(t, f.AddLogicBlock(&LogicBlock{
		ID:   "gate",
		Type: coreflow.BlockIfElse,
		IfElse: &coreflow.IfElseSpec{
			Cond:        Condition{Field: "interest", Op: coreflow.OpEquals, Value: "yes"},
			TrueTarget:  "features",
			FalseTarget: "goodbye",
		},
	}))
	require.NoError(t, f.AddConnection("welcome", "gate"))
	require.NoError(t, f.AddConnection("features", EndTarget))
	f.EntryPoint = "welcome"

	require.NoError(t, rt.SaveFlow(ctx, f))
	require.NoError(t, rt.Activate(ctx, f.ID))
	return f
}

func TestRuntime_EndToEnd(t *testing.T) {
	rt := NewRuntime(nil)
	ctx := context.Background()
	f := buildSurvey(t, rt)

	session, first, err := rt.StartSession(ctx, f.ID, "visitor-1")
	require.NoError(t, err)
	require.NotNil(t, first.Node)
	assert.Equal(t, "welcome", first.Node.ID)
	assert.Equal(t, "welcome", session.CurrentID)

	next, err := rt.Step(ctx, session.ID, Responses{"interest": "yes"})
	require.NoError(t, err)
	require.NotNil(t, next.Node)
	assert.Equal(t, "features", next.Node.ID)

	done, err := rt.Step(ctx, session.ID, nil)
	require.NoError(t, err)
	assert.True(t, done.End)

	// The completed session is gone.
	_, err = rt.Step(ctx, session.ID, nil)
	assert.Error(t, err)
}

func TestRuntime_StepFollowsFalseBranch(t *testing.T) {
	rt := NewRuntime(nil)
	ctx := context.Background()
	f := buildSurvey(t, rt)

	session, _, err := rt.StartSession(ctx, f.ID, "visitor-2")
	require.NoError(t, err)

	next, err := rt.Step(ctx, session.ID, Responses{"interest": "no"})
	require.NoError(t, err)
	assert.Equal(t, "goodbye", next.Node.ID)
}

func TestRuntime_ValidateSurfacesViolations(t *testing.T) {
	rt := NewRuntime(nil)
	ctx := context.Background()

	f, err := rt.CreateFlow(ctx, "owner-1", "Broken")
	require.NoError(t, err)
	require.NoError(t, f.AddNode(&Node{ID: "alone", Title: "Alone"}))
	require.NoError(t, f.AddNode(&Node{ID: "island", Title: "Island"}))
	f.EntryPoint = "alone"

	err = rt.Validate(ctx, f)
	var violations validation.Violations
	require.ErrorAs(t, err, &violations)
	assert.True(t, violations.Has(validation.KindUnreachableNode))
}

func TestRuntime_LifecycleRoundTrip(t *testing.T) {
	rt := NewRuntime(nil)
	ctx := context.Background()
	f := buildSurvey(t, rt)

	require.NoError(t, rt.Deactivate(ctx, f.ID))
	require.NoError(t, rt.Archive(ctx, f.ID))
	require.NoError(t, rt.Restore(ctx, f.ID))
	require.NoError(t, rt.Activate(ctx, f.ID))

	loaded, err := rt.GetFlow(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, coreflow.StatusLive, loaded.Status)
}
