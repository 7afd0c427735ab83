package collectors

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/evidence"
)

// Exact links an asset to the owners whose known external identifiers
// (video ids, document ids) occur literally in the asset's key or content.
type Exact struct{}

// NewExact creates the exact identifier collector.
func NewExact() *Exact { return &Exact{} }

// Method implements evidence.Collector.
func (c *Exact) Method() evidence.Method { return evidence.MethodExact }

// Collect implements evidence.Collector.
func (c *Exact) Collect(ctx context.Context, in evidence.Input) (evidence.Result, error) {
	// identifier -> owners claiming it
	index := make(map[string][]string)
	for _, o := range in.Owners {
		for _, id := range o.KnownIdentifiers {
			id = strings.TrimSpace(id)
			if len(id) < 3 {
				continue
			}
			index[id] = append(index[id], o.OwnerID)
		}
	}
	w := in.Config.Weights

	return collect(ctx, c.Method(), in, func(_ context.Context, a assets.Asset) ([]evidence.Item, error) {
		if len(index) == 0 {
			return nil, nil
		}
		unique := make(map[string][]string)    // owner -> identifiers only that owner claims
		ambiguous := make(map[string][]string) // owner -> identifiers shared with others
		for tok := range identifiers(searchText(a)) {
			owners, ok := index[tok]
			if !ok {
				continue
			}
			distinct := dedupe(owners)
			for _, owner := range distinct {
				if len(distinct) == 1 {
					unique[owner] = append(unique[owner], tok)
				} else {
					ambiguous[owner] = append(ambiguous[owner], tok)
				}
			}
		}

		var items []evidence.Item
		for owner, ids := range unique {
			sort.Strings(ids)
			conf := w.ExactSingle
			reason := fmt.Sprintf("identifier %s found in asset", ids[0])
			if len(ids) > 1 {
				conf = w.ExactDouble
				reason = fmt.Sprintf("identifiers %s found in asset", strings.Join(ids, ", "))
			}
			items = append(items, evidence.Item{
				OwnerID:    owner,
				Confidence: conf,
				Reason:     reason,
				Payload:    map[string]string{"identifiers": strings.Join(ids, ",")},
			})
		}
		for owner, ids := range ambiguous {
			if _, ok := unique[owner]; ok {
				continue
			}
			sort.Strings(ids)
			items = append(items, evidence.Item{
				OwnerID:    owner,
				Confidence: w.ExactAmbiguous,
				Reason:     fmt.Sprintf("identifier %s found in asset but is claimed by several owners", ids[0]),
				Payload:    map[string]string{"identifiers": strings.Join(ids, ","), "ambiguous": "true"},
			})
		}
		sort.Slice(items, func(i, j int) bool { return items[i].OwnerID < items[j].OwnerID })
		return items, nil
	})
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
