package reclaim

import (
	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/fusion"
	"github.com/agentstation/reclaim/pkg/recovery"
	"github.com/agentstation/reclaim/pkg/report"
	"github.com/agentstation/reclaim/pkg/session"
)

// Result is the outcome of one reconciliation pass.
type Result struct {
	RunID  string
	DryRun bool

	// Assets is the orphan pool as discovered.
	Assets []assets.Asset
	// Rankings holds the winner and alternatives per matched asset.
	Rankings []fusion.Ranking
	// Plan is the dry-run action per winner, computed in every mode.
	Plan []recovery.Action
	// Actions is the executed action per winner; nil for dry runs.
	Actions []recovery.Action

	Preview     *report.Report
	Final       *report.Report
	PreviewPath string
	FinalPath   string

	Session *session.Session
}

// Report returns the final report, or the preview for dry runs.
func (r *Result) Report() *report.Report {
	if r.Final != nil {
		return r.Final
	}
	return r.Preview
}

// HasFailures reports whether any executed action failed or was rolled back.
func (r *Result) HasFailures() bool {
	for _, a := range r.Actions {
		if a.Failed() {
			return true
		}
	}
	return false
}

// Committed returns the actions committed by this pass.
func (r *Result) Committed() []recovery.Action {
	var out []recovery.Action
	for _, a := range r.Actions {
		if a.Status == recovery.StatusCommitted && !a.AlreadyReconciled {
			out = append(out, a)
		}
	}
	return out
}
