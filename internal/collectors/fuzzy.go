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

// Fuzzy scores how much of an owner's display name and email address
// appear in an asset's key, readable content and metadata name fields.
type Fuzzy struct{}

// NewFuzzy creates the name and email collector.
func NewFuzzy() *Fuzzy { return &Fuzzy{} }

// Method implements evidence.Collector.
func (c *Fuzzy) Method() evidence.Method { return evidence.MethodName }

type ownerTerms struct {
	owner  ledger.OwnerRecord
	tokens []string
	email  string
	local  string
}

// Collect implements evidence.Collector.
func (c *Fuzzy) Collect(ctx context.Context, in evidence.Input) (evidence.Result, error) {
	terms := make([]ownerTerms, 0, len(in.Owners))
	for _, o := range in.Owners {
		t := ownerTerms{owner: o, tokens: nameTokens(o.DisplayName)}
		if email := normalize(strings.TrimSpace(o.Email)); strings.Contains(email, "@") {
			t.email = email
			if local, _, _ := strings.Cut(email, "@"); len(local) >= 3 {
				t.local = local
			}
		}
		if len(t.tokens) > 0 || t.email != "" {
			terms = append(terms, t)
		}
	}
	cfg := in.Config

	return collect(ctx, c.Method(), in, func(_ context.Context, a assets.Asset) ([]evidence.Item, error) {
		text := searchText(a)
		if names := extractFields(a, cfg.NameFields).get(cfg.NameFields...); len(names) > 0 {
			text += "\n" + strings.Join(names, "\n")
		}
		text = normalize(text)

		var items []evidence.Item
		for _, t := range terms {
			if item, ok := scoreName(cfg.Weights, t, text); ok {
				items = append(items, item)
			}
		}
		sort.Slice(items, func(i, j int) bool { return items[i].OwnerID < items[j].OwnerID })
		return items, nil
	})
}

// scoreName sums the name and email components, capped at NameCap.
func scoreName(w evidence.Weights, t ownerTerms, text string) (evidence.Item, bool) {
	var (
		score   float64
		reasons []string
	)
	found := tokensFound(text, t.tokens)
	switch n, k := len(t.tokens), len(found); {
	case k == 0:
	case n == 1:
		score += w.NameSingle
		reasons = append(reasons, fmt.Sprintf("name %q found", found[0]))
	case k == n:
		score += w.NameFull
		reasons = append(reasons, fmt.Sprintf("full name %q found", t.owner.DisplayName))
	default:
		// One token scores NamePartial; each further token moves toward NameFull.
		score += w.NamePartial + (w.NameFull-w.NamePartial)*float64(k-1)/float64(n-1)
		reasons = append(reasons, fmt.Sprintf("name tokens %s found (%d of %d)", strings.Join(found, ", "), k, n))
	}

	switch {
	case t.email != "" && strings.Contains(text, t.email):
		score += w.EmailExact
		reasons = append(reasons, "email address found")
	case t.local != "" && strings.Contains(text, t.local):
		score += w.EmailLocal
		reasons = append(reasons, fmt.Sprintf("email local part %q found", t.local))
	}

	score = min(score, w.NameCap)
	if score == 0 || score < w.NameMin {
		return evidence.Item{}, false
	}
	return evidence.Item{
		OwnerID:    t.owner.OwnerID,
		Confidence: score,
		Reason:     strings.Join(reasons, "; "),
		Payload:    map[string]string{"tokens": strings.Join(found, ",")},
	}, true
}
