package collectors

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/history"
	"github.com/agentstation/reclaim/pkg/ledger"
)

// History searches logs, commit messages and upload manifests for an
// asset's id and attributes each hit to the owners it mentions. Verified
// sources outrank free-form ones.
type History struct {
	source history.Source
}

// NewHistory creates the historical-source collector. A nil source
// yields no evidence.
func NewHistory(src history.Source) *History {
	return &History{source: src}
}

// Method implements evidence.Collector.
func (c *History) Method() evidence.Method { return evidence.MethodHistory }

type ownerPattern struct {
	owner  ledger.OwnerRecord
	id     *regexp.Regexp
	name   string
	tokens []string
}

// newOwnerPattern only accepts anchored id mentions: a bare number equal to
// an owner id is as likely a year, a size or a timestamp.
func newOwnerPattern(o ledger.OwnerRecord) ownerPattern {
	id := regexp.QuoteMeta(o.OwnerID)
	alts := []string{
		`(?i:\brow\s*#?\s*)` + id + `\b`,
		`/` + id + `/`,
		`(?i:\b(?:owner|person|client|row)_?id\s*[:=]\s*["']?)` + id + `\b`,
	}
	return ownerPattern{
		owner:  o,
		id:     regexp.MustCompile(strings.Join(alts, "|")),
		name:   normalize(strings.TrimSpace(o.DisplayName)),
		tokens: nameTokens(o.DisplayName),
	}
}

// mentions reports whether a text names the owner by id and by name.
func (p ownerPattern) mentions(text, normText string) (byID, byName bool) {
	byID = p.owner.OwnerID != "" && p.id.MatchString(text)
	switch {
	case len(p.tokens) > 1:
		byName = len(tokensFound(normText, p.tokens)) == len(p.tokens)
	case p.name != "":
		byName = strings.Contains(normText, p.name)
	}
	return byID, byName
}

// Collect implements evidence.Collector.
func (c *History) Collect(ctx context.Context, in evidence.Input) (evidence.Result, error) {
	if c.source == nil {
		return evidence.Result{}, nil
	}
	patterns := make([]ownerPattern, 0, len(in.Owners))
	for _, o := range in.Owners {
		patterns = append(patterns, newOwnerPattern(o))
	}
	w := in.Config.Weights

	return collect(ctx, c.Method(), in, func(ctx context.Context, a assets.Asset) ([]evidence.Item, error) {
		hits, searchErr := c.source.Search(ctx, a.ID)
		if searchErr != nil && len(hits) == 0 {
			return nil, searchErr
		}

		best := make(map[string]evidence.Item)
		for _, hit := range hits {
			for _, p := range patterns {
				item, ok := scoreHit(w, p, hit)
				if !ok {
					continue
				}
				if cur, seen := best[item.OwnerID]; !seen || item.Confidence > cur.Confidence {
					best[item.OwnerID] = item
				}
			}
		}

		items := make([]evidence.Item, 0, len(best))
		for _, it := range best {
			items = append(items, it)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].OwnerID < items[j].OwnerID })
		if searchErr != nil {
			// Some sources answered; keep their evidence and surface the rest.
			return items, fmt.Errorf("partial history search: %w", searchErr)
		}
		return items, nil
	})
}

func scoreHit(w evidence.Weights, p ownerPattern, hit history.Hit) (evidence.Item, bool) {
	var byID, byName bool
	if hit.OwnerID != "" || hit.OwnerName != "" {
		byID = hit.OwnerID != "" && hit.OwnerID == p.owner.OwnerID
		byName = hit.OwnerName != "" && p.name != "" && normalize(strings.TrimSpace(hit.OwnerName)) == p.name
	} else {
		byID, byName = p.mentions(hit.MatchedText, normalize(hit.MatchedText))
	}
	if !byID && !byName {
		return evidence.Item{}, false
	}

	item := evidence.Item{
		OwnerID: p.owner.OwnerID,
		Payload: map[string]string{
			"source_ref":   hit.SourceRef,
			"trust_tier":   string(hit.Tier),
			"matched_text": hit.MatchedText,
		},
	}
	var what string
	switch {
	case byID && byName:
		what = "owner id and name"
	case byID:
		what = "owner id"
	default:
		what = "owner name"
	}

	if hit.Tier == history.Verified {
		item.Qualifier = evidence.QualifierVerified
		item.Confidence = w.HistoryVerified
		if byID && byName {
			item.Confidence = w.HistoryVerifiedFull
		}
	} else {
		item.Qualifier = evidence.QualifierUnverified
		item.Confidence = w.HistoryName
		if byID {
			item.Confidence = w.HistoryID
		}
	}
	item.Reason = fmt.Sprintf("%s source %s mentions asset with %s", hit.Tier, hit.SourceRef, what)
	return item, true
}
