package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reclaim/pkg/evidence"
)

func item(asset, owner string, m evidence.Method, q evidence.Qualifier, conf float64) evidence.Item {
	return evidence.Item{AssetID: asset, OwnerID: owner, Method: m, Qualifier: q, Confidence: conf}
}

func TestFuse(t *testing.T) {
	items := []evidence.Item{
		item("a1", "O1", evidence.MethodName, "", 0.60),
		item("a1", "O1", evidence.MethodExact, "", 0.90),
		item("a1", "O1", evidence.MethodSize, "", 0.20),
		item("a1", "O2", evidence.MethodSize, "", 0.25),
		item("a0", "O3", evidence.MethodExact, "", 0.95),
		item("a0", "O3", evidence.MethodStructured, evidence.QualifierCorroborated, 0.95),
	}
	cands := Fuse(items, DefaultBonus)
	require.Len(t, cands, 3)

	assert.Equal(t, "a0", cands[0].AssetID)
	assert.InDelta(t, 1.0, cands[0].Confidence, 1e-9, "capped at 1")
	assert.LessOrEqual(t, cands[0].Confidence, 1.0)

	a1 := cands[1]
	assert.Equal(t, "O1", a1.OwnerID)
	assert.InDelta(t, 1.0, a1.Confidence, 1e-9, "0.90 + 2*0.05")
	assert.Equal(t, []evidence.Method{evidence.MethodExact, evidence.MethodName, evidence.MethodSize}, a1.Methods())
	assert.Equal(t, evidence.MethodExact, a1.Top().Method)
	assert.Equal(t, 70, a1.Priority())

	assert.Equal(t, "O2", cands[2].OwnerID)
	assert.True(t, cands[2].OnlyMethod(evidence.MethodSize))
	assert.InDelta(t, 0.25, cands[2].Confidence, 1e-9)
}

func TestManyWeakSignalsStayWeak(t *testing.T) {
	var items []evidence.Item
	for i := 0; i < 3; i++ {
		items = append(items, item("a", "O", evidence.MethodSize, "", 0.30))
	}
	cands := Fuse(items, DefaultBonus)
	require.Len(t, cands, 1)
	assert.InDelta(t, 0.40, cands[0].Confidence, 1e-9)
}

func TestRankKeepsAlternatives(t *testing.T) {
	items := []evidence.Item{
		item("f9", "A", evidence.MethodName, "", 0.6),
		item("f9", "B", evidence.MethodName, "", 0.8),
	}
	rankings := Rank(Fuse(items, DefaultBonus))
	require.Len(t, rankings, 1)
	r := rankings[0]
	assert.Equal(t, "B", r.Winner.OwnerID)
	assert.InDelta(t, 0.8, r.Winner.Confidence, 1e-9)
	require.Len(t, r.Alternatives, 1)
	assert.Equal(t, "A", r.Alternatives[0].OwnerID)
	assert.False(t, r.Tied)
}

func TestRankTieBreaksByPriority(t *testing.T) {
	tests := []struct {
		name   string
		items  []evidence.Item
		winner string
	}{
		{
			name: "exact beats name",
			items: []evidence.Item{
				item("a", "N", evidence.MethodName, "", 0.8),
				item("a", "E", evidence.MethodExact, "", 0.8),
			},
			winner: "E",
		},
		{
			name: "verified history beats name",
			items: []evidence.Item{
				item("a", "N", evidence.MethodName, "", 0.7),
				item("a", "H", evidence.MethodHistory, evidence.QualifierVerified, 0.7),
			},
			winner: "H",
		},
		{
			name: "name beats uncorroborated structured",
			items: []evidence.Item{
				item("a", "S", evidence.MethodStructured, evidence.QualifierUncorroborated, 0.7),
				item("a", "N", evidence.MethodName, "", 0.7),
			},
			winner: "N",
		},
		{
			name: "unverified history beats size",
			items: []evidence.Item{
				item("a", "Z", evidence.MethodSize, "", 0.3),
				item("a", "H", evidence.MethodHistory, evidence.QualifierUnverified, 0.3),
			},
			winner: "H",
		},
		{
			name: "owner id decides a full tie",
			items: []evidence.Item{
				item("a", "O2", evidence.MethodName, "", 0.5),
				item("a", "O1", evidence.MethodName, "", 0.5),
			},
			winner: "O1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Rank(Fuse(tt.items, DefaultBonus))
			require.Len(t, r, 1)
			assert.Equal(t, tt.winner, r[0].Winner.OwnerID)
			assert.True(t, r[0].Tied)
		})
	}
}

func TestFilter(t *testing.T) {
	items := []evidence.Item{
		item("a", "O", evidence.MethodExact, "", 0.9),
		item("ghost", "O", evidence.MethodExact, "", 0.9),
		item("a", "nobody", evidence.MethodExact, "", 0.9),
		item("a", "O", evidence.MethodName, "", 1.5),
		item("a", "O", evidence.MethodName, "", math.NaN()),
	}
	rankings, dropped := Process(items, map[string]bool{"a": true}, map[string]bool{"O": true}, DefaultBonus)
	assert.Len(t, dropped, 4)
	require.Len(t, rankings, 1)
	assert.InDelta(t, 0.9, rankings[0].Winner.Confidence, 1e-9)
}

func TestFuseIsDeterministic(t *testing.T) {
	items := []evidence.Item{
		item("b", "O2", evidence.MethodName, "", 0.5),
		item("a", "O1", evidence.MethodName, "", 0.5),
		item("b", "O1", evidence.MethodExact, "", 0.9),
	}
	reversed := []evidence.Item{items[2], items[1], items[0]}
	assert.Equal(t, Rank(Fuse(items, DefaultBonus)), Rank(Fuse(reversed, DefaultBonus)))
}
