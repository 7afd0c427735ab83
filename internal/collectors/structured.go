package collectors

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/ledger"
)

// Structured reads owner-id fields out of JSON or YAML assets, such as
// downloader metadata sidecars, and corroborates them against the name
// fields of the same document.
type Structured struct{}

// NewStructured creates the structured metadata collector.
func NewStructured() *Structured { return &Structured{} }

// Method implements evidence.Collector.
func (c *Structured) Method() evidence.Method { return evidence.MethodStructured }

// Collect implements evidence.Collector.
func (c *Structured) Collect(ctx context.Context, in evidence.Input) (evidence.Result, error) {
	owners := make(map[string]ledger.OwnerRecord, len(in.Owners))
	for _, o := range in.Owners {
		owners[o.OwnerID] = o
	}
	cfg := in.Config
	keys := append(append([]string(nil), cfg.OwnerFields...), cfg.NameFields...)

	return collect(ctx, c.Method(), in, func(_ context.Context, a assets.Asset) ([]evidence.Item, error) {
		f := extractFields(a, keys)
		if len(f) == 0 {
			return nil, nil
		}
		names := normalize(strings.Join(f.get(cfg.NameFields...), " "))

		seen := make(map[string]bool)
		var items []evidence.Item
		for _, field := range cfg.OwnerFields {
			for _, v := range f.get(field) {
				o, ok := owners[v]
				if !ok || seen[o.OwnerID] {
					continue
				}
				seen[o.OwnerID] = true
				items = append(items, scoreStructured(cfg.Weights, o, field, v, names))
			}
		}
		sort.Slice(items, func(i, j int) bool { return items[i].OwnerID < items[j].OwnerID })
		return items, nil
	})
}

func scoreStructured(w evidence.Weights, o ledger.OwnerRecord, field, value, names string) evidence.Item {
	item := evidence.Item{
		OwnerID:    o.OwnerID,
		Qualifier:  evidence.QualifierUncorroborated,
		Confidence: w.StructuredBase,
		Reason:     fmt.Sprintf("%s=%s in structured metadata", field, value),
		Payload:    map[string]string{"field": field, "value": value},
	}
	tokens := nameTokens(o.DisplayName)
	found := tokensFound(names, tokens)
	switch {
	case len(found) == 0:
	case len(found) == len(tokens) && len(tokens) > 1:
		item.Qualifier = evidence.QualifierCorroborated
		item.Confidence = w.StructuredFull
		item.Reason += fmt.Sprintf(", name %q corroborated", o.DisplayName)
	default:
		item.Qualifier = evidence.QualifierCorroborated
		item.Confidence = w.StructuredToken
		item.Reason += fmt.Sprintf(", name token %q corroborated", found[0])
	}
	return item
}
