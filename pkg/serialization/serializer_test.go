package serialization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow/stepflow/internal/core/flow"
)

func sampleFlow(t *testing.T) *flow.Flow {
	t.Helper()
	f := &flow.Flow{
		ID:        "flow-1",
		OwnerID:   "owner-1",
		Title:     "Welcome Tour",
		Status:    flow.StatusDraft,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, f.AddNode(&flow.Node{ID: "welcome", Title: "Welcome", Components: []flow.Component{
		{Type: flow.ComponentQuestion, Body: "Interested?", Field: "interest"},
	}}))
	require.NoError(t, f.AddNode(&flow.Node{ID: "features", Title: "Features"}))
	require.NoError(t, f.AddLogicBlock(&flow.LogicBlock{
		ID:   "gate",
		Type: flow.BlockIfElse,
		IfElse: &flow.IfElseSpec{
			Cond:        flow.Condition{Field: "interest", Op: flow.OpEquals, Value: "yes"},
			TrueTarget:  "features",
			FalseTarget: flow.EndTarget,
		},
	}))
	require.NoError(t, f.AddConnection("welcome", "gate"))
	f.EntryPoint = "welcome"
	return f
}

func assertFlowEqual(t *testing.T, want, got *flow.Flow) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.OwnerID, got.OwnerID)
	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.EntryPoint, got.EntryPoint)
	require.Len(t, got.Nodes, len(want.Nodes))
	assert.Equal(t, want.Nodes[0].Connections, got.Nodes[0].Connections)
	require.Len(t, got.Blocks, len(want.Blocks))
	require.NotNil(t, got.Blocks[0].IfElse)
	assert.Equal(t, want.Blocks[0].IfElse.TrueTarget, got.Blocks[0].IfElse.TrueTarget)
}

func TestFlowSerializer_RoundTrip(t *testing.T) {
	configs := []struct {
		name   string
		config Config
	}{
		{"json plain", Config{Codec: NewJSONCodec()}},
		{"json gzip", Config{Codec: NewJSONCodec(), Compression: CompressionGzip}},
		{"msgpack plain", Config{Codec: NewMsgPackCodec()}},
		{"msgpack zstd", Config{Codec: NewMsgPackCodec(), Compression: CompressionZstd}},
	}

	f := sampleFlow(t)
	for _, tc := range configs {
		t.Run(tc.name, func(t *testing.T) {
			s := NewFlowSerializer(tc.config)
			data, err := s.Marshal(f)
			require.NoError(t, err)

			got, err := s.Unmarshal(data)
			require.NoError(t, err)
			assertFlowEqual(t, f, got)
		})
	}
}

func TestFlowSerializer_Encryption(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	s := NewFlowSerializer(Config{
		Codec:       NewMsgPackCodec(),
		Compression: CompressionZstd,
		EncryptKey:  key,
	})

	f := sampleFlow(t)
	data, err := s.Marshal(f)
	require.NoError(t, err)

	got, err := s.Unmarshal(data)
	require.NoError(t, err)
	assertFlowEqual(t, f, got)

	// A serializer without the key cannot read the payload.
	plain := NewFlowSerializer(Config{Codec: NewMsgPackCodec(), Compression: CompressionZstd})
	_, err = plain.Unmarshal(data)
	assert.Error(t, err)

	// Tampered ciphertext is rejected.
	data[len(data)-1] ^= 0xff
	_, err = s.Unmarshal(data)
	assert.Error(t, err)
}

func TestFlowSerializer_Default(t *testing.T) {
	s := Default()
	f := sampleFlow(t)

	data, err := s.Marshal(f)
	require.NoError(t, err)

	got, err := s.Unmarshal(data)
	require.NoError(t, err)
	assertFlowEqual(t, f, got)
}
