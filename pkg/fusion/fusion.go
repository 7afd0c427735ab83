// Package fusion combines evidence items into candidate mappings and
// ranks the competing candidates of each asset.
//
// Fusion is a pure reduction: the strongest single signal of an (asset,
// owner) pair dominates, and each further corroborating item adds a small
// bonus, so many weak signals can never add up to one strong signal.
// Ranking sorts by fused confidence and breaks ties by method priority.
package fusion

import (
	"sort"

	"github.com/agentstation/reclaim/pkg/evidence"
)

// DefaultBonus is the corroboration bonus per additional item.
const DefaultBonus = 0.05

// Candidate is one proposed (asset, owner) mapping.
type Candidate struct {
	AssetID    string  `json:"asset_id" yaml:"asset_id"`
	OwnerID    string  `json:"owner_id" yaml:"owner_id"`
	Confidence float64 `json:"fused_confidence" yaml:"fused_confidence"`
	// Contributing is sorted by descending confidence, then priority.
	Contributing []evidence.Item `json:"contributing" yaml:"contributing"`
}

// Priority is the highest method priority among the contributing items.
func (c Candidate) Priority() int {
	best := 0
	for _, it := range c.Contributing {
		best = max(best, it.Priority())
	}
	return best
}

// Methods lists the distinct contributing methods in contribution order.
func (c Candidate) Methods() []evidence.Method {
	var out []evidence.Method
	seen := make(map[evidence.Method]bool)
	for _, it := range c.Contributing {
		if !seen[it.Method] {
			seen[it.Method] = true
			out = append(out, it.Method)
		}
	}
	return out
}

// OnlyMethod reports whether every contributing item came from method m.
func (c Candidate) OnlyMethod(m evidence.Method) bool {
	for _, it := range c.Contributing {
		if it.Method != m {
			return false
		}
	}
	return len(c.Contributing) > 0
}

// Top returns the strongest contributing item.
func (c Candidate) Top() evidence.Item {
	if len(c.Contributing) == 0 {
		return evidence.Item{}
	}
	return c.Contributing[0]
}

type pair struct{ asset, owner string }

// Fuse groups items by (asset, owner). The fused confidence is
// min(1, max + bonus*(n-1)) for n contributing items. The result is sorted
// by asset id, then descending confidence, then owner id.
func Fuse(items []evidence.Item, bonus float64) []Candidate {
	groups := make(map[pair][]evidence.Item)
	var order []pair
	for _, it := range items {
		k := pair{it.AssetID, it.OwnerID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], it)
	}

	out := make([]Candidate, 0, len(order))
	for _, k := range order {
		group := append([]evidence.Item(nil), groups[k]...)
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Confidence != group[j].Confidence {
				return group[i].Confidence > group[j].Confidence
			}
			return group[i].Priority() > group[j].Priority()
		})
		fused := group[0].Confidence + bonus*float64(len(group)-1)
		out = append(out, Candidate{
			AssetID:      k.asset,
			OwnerID:      k.owner,
			Confidence:   evidence.Clamp(min(1, fused)),
			Contributing: group,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AssetID != out[j].AssetID {
			return out[i].AssetID < out[j].AssetID
		}
		return better(out[i], out[j])
	})
	return out
}

// better orders candidates of one asset: confidence, then method priority,
// then owner id.
func better(a, b Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if pa, pb := a.Priority(), b.Priority(); pa != pb {
		return pa > pb
	}
	return a.OwnerID < b.OwnerID
}
