package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitsFor(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
		want Limits
	}{
		{
			name: "active tier",
			tier: TierActive,
			want: Limits{MaxFlows: 3, MaxNodesPerFlow: 30},
		},
		{
			name: "free tier",
			tier: TierFree,
			want: Limits{MaxFlows: 1, MaxNodesPerFlow: 5},
		},
		{
			name: "unknown tier falls back to free",
			tier: Tier("enterprise"),
			want: Limits{MaxFlows: 1, MaxNodesPerFlow: 5},
		},
		{
			name: "empty tier falls back to free",
			tier: Tier(""),
			want: Limits{MaxFlows: 1, MaxNodesPerFlow: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LimitsFor(tt.tier))
		})
	}
}
