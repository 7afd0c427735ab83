package collectors

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/evidence"
)

// Correlator pairs orphans with objects already in an owner's namespace
// that have a similar size and were written in the same time window. It
// is weak evidence by construction: its score never exceeds SizeMax.
type Correlator struct{}

// NewCorrelator creates the size and time correlator.
func NewCorrelator() *Correlator { return &Correlator{} }

// Method implements evidence.Collector.
func (c *Correlator) Method() evidence.Method { return evidence.MethodSize }

type window struct {
	hour   map[int64]int
	minute map[int64]int
}

func (w window) add(t time.Time) {
	if t.IsZero() {
		return
	}
	w.hour[t.UTC().Truncate(time.Hour).Unix()]++
	w.minute[t.UTC().Truncate(time.Minute).Unix()]++
}

// Collect implements evidence.Collector.
func (c *Correlator) Collect(ctx context.Context, in evidence.Input) (evidence.Result, error) {
	// Window populations count every orphan and every owner object, so a
	// busy batch upload dilutes each pairing.
	win := window{hour: make(map[int64]int), minute: make(map[int64]int)}
	for _, a := range in.Universe() {
		win.add(a.ModifiedAt)
	}
	known := make(map[string]bool, len(in.Owners))
	for _, o := range in.Owners {
		known[o.OwnerID] = true
		for _, obj := range in.Existing[o.OwnerID] {
			win.add(obj.ModifiedAt)
		}
	}
	ownerIDs := make([]string, 0, len(known))
	for id := range known {
		ownerIDs = append(ownerIDs, id)
	}
	sort.Strings(ownerIDs)

	cfg := in.Config
	return collect(ctx, c.Method(), in, func(_ context.Context, a assets.Asset) ([]evidence.Item, error) {
		if a.Size <= 0 || a.ModifiedAt.IsZero() || cfg.SizeTolerance <= 0 {
			return nil, nil
		}
		var items []evidence.Item
		for _, owner := range ownerIDs {
			var (
				best    float64
				bestKey string
				bestWin string
			)
			for _, obj := range in.Existing[owner] {
				score, label, ok := correlate(cfg, win, a, obj)
				if ok && score > best {
					best, bestKey, bestWin = score, obj.Key, label
				}
			}
			if best == 0 {
				continue
			}
			items = append(items, evidence.Item{
				OwnerID:    owner,
				Confidence: best,
				Reason:     fmt.Sprintf("size within %.0f%% of %s, written in the same %s", cfg.SizeTolerance*100, bestKey, bestWin),
				Payload:    map[string]string{"peer": bestKey, "window": bestWin},
			})
		}
		return items, nil
	})
}

// correlate scores one orphan against one owner object as
// SizeMin + (SizeMax-SizeMin) * (tightness + exclusivity) / 2.
func correlate(cfg evidence.Config, win window, a assets.Asset, obj assets.ObjectInfo) (float64, string, bool) {
	if obj.Size <= 0 || obj.ModifiedAt.IsZero() {
		return 0, "", false
	}
	at, ot := a.ModifiedAt.UTC(), obj.ModifiedAt.UTC()
	if !at.Truncate(time.Hour).Equal(ot.Truncate(time.Hour)) {
		return 0, "", false
	}
	diff := math.Abs(float64(a.Size-obj.Size)) / float64(max(a.Size, obj.Size))
	if diff > cfg.SizeTolerance {
		return 0, "", false
	}
	tightness := 1 - diff/cfg.SizeTolerance

	label, population := "hour", win.hour[at.Truncate(time.Hour).Unix()]
	if at.Truncate(time.Minute).Equal(ot.Truncate(time.Minute)) {
		label, population = "minute", win.minute[at.Truncate(time.Minute).Unix()]
	}
	exclusivity := 1.0
	if population > 2 {
		exclusivity = 1 / float64(population-1)
	}
	w := cfg.Weights
	return w.SizeMin + (w.SizeMax-w.SizeMin)*(tightness+exclusivity)/2, label, true
}
