// Package history provides read-only search over change-history and log
// artifacts that live outside the asset store and the ledger: git commit
// messages, upload logs and verified upload manifests.
//
// A search for an asset id returns hits tagged with the trust tier of the
// source they came from, so the historical-source collector can weigh a
// cross-checked manifest above a free-form log line.
package history

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/agentstation/reclaim/pkg/errors"
)

// TrustTier grades how much a source can be believed.
type TrustTier string

// Trust tiers.
const (
	Verified   TrustTier = "verified"
	Unverified TrustTier = "unverified"
)

// Hit is one place where a searched pattern occurs.
type Hit struct {
	SourceRef   string    `json:"source_ref" yaml:"source_ref"`
	Tier        TrustTier `json:"trust_tier" yaml:"trust_tier"`
	MatchedText string    `json:"matched_text" yaml:"matched_text"`
	// OwnerID and OwnerName are set by sources that record the owner
	// explicitly rather than in free text.
	OwnerID   string `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	OwnerName string `json:"owner_name,omitempty" yaml:"owner_name,omitempty"`
}

// Source is the historical-source collaborator.
type Source interface {
	Name() string
	Search(ctx context.Context, pattern string) ([]Hit, error)
}

// Multi searches several sources concurrently and concatenates their hits
// in source order. Failing sources do not hide the others' hits; their
// errors are joined and returned alongside.
type Multi struct {
	sources []Source
}

// NewMulti combines sources. Nil sources are ignored.
func NewMulti(sources ...Source) *Multi {
	m := &Multi{}
	for _, s := range sources {
		if s != nil {
			m.sources = append(m.sources, s)
		}
	}
	return m
}

// Name implements Source.
func (m *Multi) Name() string {
	names := make([]string, len(m.sources))
	for i, s := range m.sources {
		names[i] = s.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

// Len returns the number of combined sources.
func (m *Multi) Len() int { return len(m.sources) }

// Search implements Source.
func (m *Multi) Search(ctx context.Context, pattern string) ([]Hit, error) {
	results := make([][]Hit, len(m.sources))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i, src := range m.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			hits, err := src.Search(ctx, pattern)
			if err != nil {
				mu.Lock()
				errs = append(errs, errors.WrapResource("search", "history", src.Name(), err))
				mu.Unlock()
			}
			results[i] = hits
		}(i, src)
	}
	wg.Wait()

	var out []Hit
	for _, hits := range results {
		out = append(out, hits...)
	}
	return out, errors.Join(errs...)
}

// Static is a fixed list of hits, useful for tests and for replaying hits
// exported from another system.
type Static struct {
	Label string
	Hits  []Hit
}

// Name implements Source.
func (s *Static) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

// Search implements Source.
func (s *Static) Search(_ context.Context, pattern string) ([]Hit, error) {
	var out []Hit
	for _, h := range s.Hits {
		if strings.Contains(h.MatchedText, pattern) {
			out = append(out, h)
		}
	}
	return out, nil
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
