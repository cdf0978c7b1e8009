package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/stepflow/internal/core/flow"
)

func validDocument() *FlowDocument {
	return &FlowDocument{
		ID:      "flow-1",
		OwnerID: "acme",
		Title:   "Welcome tour",
		Status:  "draft",
		Nodes: []NodeDocument{
			{ID: "a", Title: "Intro", Connections: []string{"b"}},
			{ID: "b", Title: "Outro", Connections: []string{flow.EndTarget}},
		},
		Blocks: []BlockDocument{{
			ID:   "split",
			Type: "if-else",
			IfElse: &flow.IfElseSpec{
				Cond:        flow.Condition{Field: "plan", Op: flow.OpEquals, Value: "pro"},
				TrueTarget:  "b",
				FalseTarget: flow.EndTarget,
			},
		}},
	}
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*FlowDocument)
		wantErr bool
	}{
		{
			name:    "valid document",
			mutate:  func(*FlowDocument) {},
			wantErr: false,
		},
		{
			name:    "missing ID",
			mutate:  func(d *FlowDocument) { d.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing owner",
			mutate:  func(d *FlowDocument) { d.OwnerID = "" },
			wantErr: true,
		},
		{
			name:    "missing title",
			mutate:  func(d *FlowDocument) { d.Title = "" },
			wantErr: true,
		},
		{
			name:    "bad status",
			mutate:  func(d *FlowDocument) { d.Status = "frozen" },
			wantErr: true,
		},
		{
			name:    "node id with spaces",
			mutate:  func(d *FlowDocument) { d.Nodes[0].ID = "not ok" },
			wantErr: true,
		},
		{
			name:    "sentinel as node id",
			mutate:  func(d *FlowDocument) { d.Nodes[0].ID = flow.EndTarget },
			wantErr: true,
		},
		{
			name:    "sentinel as connection target is fine",
			mutate:  func(d *FlowDocument) { d.Nodes[0].Connections = []string{flow.EndTarget} },
			wantErr: false,
		},
		{
			name:    "bad block type",
			mutate:  func(d *FlowDocument) { d.Blocks[0].Type = "roulette" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDocument()
			tt.mutate(doc)
			err := ValidateDocument(doc)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFlowDocument_ToFlow(t *testing.T) {
	t.Run("converts nodes and blocks", func(t *testing.T) {
		f, err := validDocument().ToFlow()
		require.NoError(t, err)
		assert.Equal(t, "flow-1", f.ID)
		assert.Equal(t, flow.StatusDraft, f.Status)
		assert.Len(t, f.Nodes, 2)
		assert.Len(t, f.Blocks, 1)

		b, ok := f.BlockByID("split")
		require.True(t, ok)
		assert.Equal(t, flow.BlockIfElse, b.Type)
	})

	t.Run("defaults status to draft", func(t *testing.T) {
		doc := validDocument()
		doc.Status = ""
		f, err := doc.ToFlow()
		require.NoError(t, err)
		assert.Equal(t, flow.StatusDraft, f.Status)
	})

	t.Run("rejects duplicate node ids", func(t *testing.T) {
		doc := validDocument()
		doc.Nodes = append(doc.Nodes, NodeDocument{ID: "a"})
		_, err := doc.ToFlow()
		assert.ErrorIs(t, err, flow.ErrDuplicateNode)
	})

	t.Run("rejects block without payload", func(t *testing.T) {
		doc := validDocument()
		doc.Blocks = append(doc.Blocks, BlockDocument{ID: "bare", Type: "multi-path"})
		_, err := doc.ToFlow()
		assert.ErrorIs(t, err, flow.ErrMissingBlockSpec)
	})
}
