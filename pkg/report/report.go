// Package report builds and persists the audit report of a reconciliation
// run. A report lists, per orphaned asset, every candidate owner with the
// evidence behind it and the action taken, followed by summary counts.
//
// Building is pure. Writing never overwrites an existing report.
package report

import (
	"sort"
	"time"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/fusion"
	"github.com/agentstation/reclaim/pkg/recovery"
	"github.com/agentstation/reclaim/pkg/session"
)

// Phase distinguishes the preview written before any commit from the
// final report written after execution.
type Phase string

// Report phases.
const (
	PhasePreview Phase = "preview"
	PhaseFinal   Phase = "final"
)

// Outcome is the per-asset result shown in the report.
type Outcome string

// Outcomes.
const (
	OutcomeCommitted         Outcome = "committed"
	OutcomeAlreadyReconciled Outcome = "already_reconciled"
	OutcomeWouldCommit       Outcome = "would_commit"
	OutcomePending           Outcome = "pending"
	OutcomeFailed            Outcome = "failed"
	OutcomeRolledBack        Outcome = "rolled_back"
	OutcomeUnmatched         Outcome = "unmatched"
)

// Meta describes the run a report belongs to.
type Meta struct {
	RunID       string    `json:"run_id" yaml:"run_id"`
	Phase       Phase     `json:"phase" yaml:"phase"`
	Mode        string    `json:"mode" yaml:"mode"`
	Threshold   float64   `json:"confidence_threshold" yaml:"confidence_threshold"`
	Methods     []string  `json:"methods,omitempty" yaml:"methods,omitempty"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
}

// Summary counts assets by outcome.
type Summary struct {
	Total             int `json:"total_orphaned" yaml:"total_orphaned"`
	AutoCommitted     int `json:"auto_committed" yaml:"auto_committed"`
	AlreadyReconciled int `json:"already_reconciled" yaml:"already_reconciled"`
	WouldCommit       int `json:"would_commit" yaml:"would_commit"`
	Pending           int `json:"pending_review" yaml:"pending_review"`
	Failed            int `json:"failed" yaml:"failed"`
	RolledBack        int `json:"rolled_back" yaml:"rolled_back"`
	Unmatched         int `json:"unmatched" yaml:"unmatched"`
}

// Entry is the report line of one asset.
type Entry struct {
	AssetID      string             `json:"asset_id" yaml:"asset_id"`
	Key          string             `json:"key,omitempty" yaml:"key,omitempty"`
	SizeBytes    int64              `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	Kind         string             `json:"kind,omitempty" yaml:"kind,omitempty"`
	Outcome      Outcome            `json:"outcome" yaml:"outcome"`
	Winner       *fusion.Candidate  `json:"winner,omitempty" yaml:"winner,omitempty"`
	Alternatives []fusion.Candidate `json:"alternatives,omitempty" yaml:"alternatives,omitempty"`
	Tied         bool               `json:"tied,omitempty" yaml:"tied,omitempty"`
	Action       *recovery.Action   `json:"action,omitempty" yaml:"action,omitempty"`
}

// Report is the audit record of one run.
type Report struct {
	Meta     Meta           `json:"meta" yaml:"meta"`
	Summary  Summary        `json:"summary" yaml:"summary"`
	Assets   []Entry        `json:"assets" yaml:"assets"`
	Notes    []session.Note `json:"notes,omitempty" yaml:"notes,omitempty"`
	Counters map[string]int `json:"counters,omitempty" yaml:"counters,omitempty"`
}

// Build assembles a report from the orphan pool, the rankings and the
// actions. Assets that appear only in rankings or actions are included as
// well. Entries are ordered by asset id.
func Build(rankings []fusion.Ranking, actions []recovery.Action, orphans []assets.Asset, meta Meta) *Report {
	entries := make(map[string]*Entry, len(orphans))
	entry := func(id string) *Entry {
		e, ok := entries[id]
		if !ok {
			e = &Entry{AssetID: id}
			entries[id] = e
		}
		return e
	}

	for _, a := range orphans {
		e := entry(a.ID)
		e.Key, e.SizeBytes, e.Kind = a.Key, a.Size, a.Kind
	}
	for _, r := range rankings {
		e := entry(r.AssetID)
		w := r.Winner
		e.Winner = &w
		e.Alternatives = r.Alternatives
		e.Tied = r.Tied
	}
	for i := range actions {
		a := actions[i]
		e := entry(a.AssetID)
		e.Action = &a
		if e.Key == "" {
			e.Key = a.OldLocation
		}
	}

	r := &Report{Meta: meta, Assets: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		e.Outcome = outcomeOf(e)
		r.Assets = append(r.Assets, *e)
	}
	sort.Slice(r.Assets, func(i, j int) bool { return r.Assets[i].AssetID < r.Assets[j].AssetID })
	r.Summary = Summarize(r.Assets)
	return r
}

// WithSession attaches a session's notes and counters.
func (r *Report) WithSession(s *session.Session) *Report {
	if s == nil {
		return r
	}
	r.Notes = s.Notes()
	r.Counters = s.Counters()
	return r
}

// Summarize counts entries by outcome.
func Summarize(entries []Entry) Summary {
	s := Summary{Total: len(entries)}
	for _, e := range entries {
		switch e.Outcome {
		case OutcomeCommitted:
			s.AutoCommitted++
		case OutcomeAlreadyReconciled:
			s.AlreadyReconciled++
		case OutcomeWouldCommit:
			s.WouldCommit++
		case OutcomePending:
			s.Pending++
		case OutcomeFailed:
			s.Failed++
		case OutcomeRolledBack:
			s.RolledBack++
		case OutcomeUnmatched:
			s.Unmatched++
		}
	}
	return s
}

// HasFailures reports whether any action failed or was rolled back.
func (r *Report) HasFailures() bool {
	return r.Summary.Failed > 0 || r.Summary.RolledBack > 0
}

func outcomeOf(e *Entry) Outcome {
	a := e.Action
	switch {
	case a == nil && e.Winner == nil:
		return OutcomeUnmatched
	case a == nil:
		return OutcomePending
	}
	switch a.Status {
	case recovery.StatusCommitted:
		if a.AlreadyReconciled {
			return OutcomeAlreadyReconciled
		}
		return OutcomeCommitted
	case recovery.StatusFailed:
		return OutcomeFailed
	case recovery.StatusRolledBack:
		return OutcomeRolledBack
	}
	if a.Planned {
		return OutcomeWouldCommit
	}
	return OutcomePending
}
