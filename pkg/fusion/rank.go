package fusion

import (
	"sort"

	"github.com/agentstation/reclaim/pkg/evidence"
)

// Ranking is the ordered candidate list of one asset.
type Ranking struct {
	AssetID string    `json:"asset_id" yaml:"asset_id"`
	Winner  Candidate `json:"winner" yaml:"winner"`
	// Alternatives are the rejected candidates, best first. They are kept
	// for manual review.
	Alternatives []Candidate `json:"alternatives,omitempty" yaml:"alternatives,omitempty"`
	// Tied is set when the winner beat the runner-up only on method priority
	// or owner id.
	Tied bool `json:"tied,omitempty" yaml:"tied,omitempty"`
}

// Rank selects a winner per asset. Rankings are sorted by asset id.
func Rank(candidates []Candidate) []Ranking {
	byAsset := make(map[string][]Candidate)
	for _, c := range candidates {
		byAsset[c.AssetID] = append(byAsset[c.AssetID], c)
	}
	ids := make([]string, 0, len(byAsset))
	for id := range byAsset {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Ranking, 0, len(ids))
	for _, id := range ids {
		cs := append([]Candidate(nil), byAsset[id]...)
		sort.SliceStable(cs, func(i, j int) bool { return better(cs[i], cs[j]) })
		r := Ranking{AssetID: id, Winner: cs[0], Alternatives: cs[1:]}
		if len(cs) > 1 && cs[0].Confidence == cs[1].Confidence {
			r.Tied = true
		}
		if len(r.Alternatives) == 0 {
			r.Alternatives = nil
		}
		out = append(out, r)
	}
	return out
}

// Filter drops items that reference an asset or owner outside the
// snapshot, or carry a confidence outside [0,1]. Dropped items are
// returned separately for the data-quality notes.
func Filter(items []evidence.Item, assetIDs, ownerIDs map[string]bool) (kept, dropped []evidence.Item) {
	for _, it := range items {
		if !assetIDs[it.AssetID] || !ownerIDs[it.OwnerID] ||
			it.Confidence < 0 || it.Confidence > 1 || it.Confidence != it.Confidence {
			dropped = append(dropped, it)
			continue
		}
		kept = append(kept, it)
	}
	return kept, dropped
}

// Process filters, fuses and ranks in one step.
func Process(items []evidence.Item, assetIDs, ownerIDs map[string]bool, bonus float64) ([]Ranking, []evidence.Item) {
	kept, dropped := Filter(items, assetIDs, ownerIDs)
	return Rank(Fuse(kept, bonus)), dropped
}
