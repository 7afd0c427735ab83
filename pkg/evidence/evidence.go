// Package evidence defines the contract shared by evidence collectors:
// the evidence item they emit, the method and trust qualifiers used for
// tie-breaking, the configurable weights and the Collector interface.
//
// Collectors are read-only. They receive a snapshot of orphaned assets
// and owner records, and emit one Item per (asset, owner) observation
// with a confidence in [0,1] and a human-readable reason.
package evidence

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/ledger"
)

// Method names the collector that produced an item.
type Method string

// Collector methods.
const (
	MethodExact      Method = "exact"
	MethodStructured Method = "structured"
	MethodName       Method = "name"
	MethodSize       Method = "size"
	MethodHistory    Method = "history"
)

// AllMethods lists every method in default execution order.
func AllMethods() []Method {
	return []Method{MethodExact, MethodStructured, MethodName, MethodSize, MethodHistory}
}

// String returns the method name.
func (m Method) String() string { return string(m) }

// ParseMethods parses names like "exact,name" into methods, rejecting
// unknown names. An empty input selects all methods.
func ParseMethods(names []string) ([]Method, error) {
	var out []Method
	for _, raw := range names {
		for _, part := range strings.Split(raw, ",") {
			name := strings.ToLower(strings.TrimSpace(part))
			if name == "" {
				continue
			}
			m := Method(name)
			if !slices.Contains(AllMethods(), m) {
				return nil, errors.NewValidationError("methods", name,
					fmt.Sprintf("unknown method %q (valid: exact, structured, name, size, history)", name))
			}
			if !slices.Contains(out, m) {
				out = append(out, m)
			}
		}
	}
	if len(out) == 0 {
		return AllMethods(), nil
	}
	return out, nil
}

// Qualifier refines a method by the trust of the underlying signal.
type Qualifier string

// Qualifiers.
const (
	QualifierNone           Qualifier = ""
	QualifierCorroborated   Qualifier = "corroborated"
	QualifierUncorroborated Qualifier = "uncorroborated"
	QualifierVerified       Qualifier = "verified"
	QualifierUnverified     Qualifier = "unverified"
)

// Item is one collector's observation linking an asset to an owner.
// Items are immutable once emitted.
type Item struct {
	AssetID    string            `json:"asset_id" yaml:"asset_id"`
	OwnerID    string            `json:"owner_id" yaml:"owner_id"`
	Method     Method            `json:"method" yaml:"method"`
	Qualifier  Qualifier         `json:"qualifier,omitempty" yaml:"qualifier,omitempty"`
	Confidence float64           `json:"confidence" yaml:"confidence"`
	Reason     string            `json:"reason" yaml:"reason"`
	Payload    map[string]string `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Priority ranks an item's method for tie-breaking; higher wins.
// exact > structured(corroborated) > history(verified) > name >
// structured(uncorroborated) > history(unverified) > size.
func (i Item) Priority() int {
	return Priority(i.Method, i.Qualifier)
}

// Priority ranks a method and qualifier pair; higher wins.
func Priority(m Method, q Qualifier) int {
	switch m {
	case MethodExact:
		return 70
	case MethodStructured:
		if q == QualifierCorroborated {
			return 60
		}
		return 30
	case MethodHistory:
		if q == QualifierVerified {
			return 50
		}
		return 20
	case MethodName:
		return 40
	case MethodSize:
		return 10
	default:
		return 0
	}
}

// Label is the method with its qualifier, e.g. "history(verified)".
func (i Item) Label() string {
	if i.Qualifier == QualifierNone {
		return string(i.Method)
	}
	return fmt.Sprintf("%s(%s)", i.Method, i.Qualifier)
}

// Clamp limits a confidence to [0,1].
func Clamp(c float64) float64 {
	switch {
	case c < 0 || c != c:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// Input is the read-only snapshot a collector analyzes.
type Input struct {
	Assets []assets.Asset
	// Pool is the whole orphan pool when Assets is one batch of it.
	// Collectors that compare assets with each other read it; nil means Assets.
	Pool   []assets.Asset
	Owners []ledger.OwnerRecord
	// Existing holds objects already in each owner's namespace, keyed by owner id.
	Existing map[string][]assets.ObjectInfo
	Config   Config
}

// Collector analyzes assets and owners and emits evidence.
//
// Collect must not mutate its input, must skip assets whose analysis
// fails (reporting them through Failures) and must return the evidence
// gathered so far together with a timeout error when ctx expires.
type Collector interface {
	Method() Method
	Collect(ctx context.Context, in Input) (Result, error)
}

// Result is a collector's output for one invocation.
type Result struct {
	Items []Item
	// Failures are per-asset analysis errors; each is an *errors.CollectorError.
	Failures []error
}

// Universe returns the full orphan pool.
func (in Input) Universe() []assets.Asset {
	if in.Pool != nil {
		return in.Pool
	}
	return in.Assets
}
