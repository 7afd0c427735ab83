package reclaim

import (
	"context"

	"github.com/agentstation/utc"

	"github.com/agentstation/reclaim/internal/collectors"
	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/fusion"
	"github.com/agentstation/reclaim/pkg/logging"
	"github.com/agentstation/reclaim/pkg/recovery"
	"github.com/agentstation/reclaim/pkg/report"
	"github.com/agentstation/reclaim/pkg/session"
)

// Reconcile runs one pass: connectivity check, snapshot, evidence
// collection, fusion, a preview report and, unless dry, execution and the
// final report.
//
// Only startup failures abort the pass; they match errors.ErrFatal and
// leave everything untouched. Per-asset failures are recorded on the
// actions and the session. A canceled pass still returns its result,
// together with an error matching errors.ErrCanceled.
func (e *engine) Reconcile(ctx context.Context, opts ...ReconcileOption) (*Result, error) {
	// Step 0: Set context
	if ctx == nil {
		ctx = context.Background()
	}

	// Step 1: Parse and validate options
	options := NewReconcileOptions(opts...)
	if err := options.Validate(); err != nil {
		return nil, err
	}

	// Step 2: Setup context with timeout
	var cancel context.CancelFunc
	if options.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
	} else {
		cancel = func() {} // No-op cancel if no timeout
	}
	defer cancel()

	sess := session.New(session.WithID(options.RunID), session.WithDryRun(options.DryRun))
	ctx = logging.WithRun(ctx, sess.ID)
	logger := logging.FromContext(ctx)
	logger.Info().
		Str("mode", options.Mode().String()).
		Float64("threshold", options.Threshold).
		Msg("Reconciliation started")

	// Step 3: Startup checks
	if err := e.ping(ctx); err != nil {
		return nil, err
	}

	// Step 4: Snapshot orphans, owners and owner namespaces
	in, err := e.snapshot(ctx, sess)
	if err != nil {
		return nil, err
	}
	result := &Result{RunID: sess.ID, DryRun: options.DryRun, Assets: in.Assets, Session: sess}
	if len(in.Assets) == 0 {
		logger.Info().Msg("No orphaned assets; nothing to do")
	}

	// Step 5: Collect evidence
	cs, err := collectors.New(options.Methods, collectors.WithHistory(e.config.history))
	if err != nil {
		return nil, err
	}
	items := collectors.NewRunner(cs, e.config.workers, e.config.batchSize).Run(ctx, in, sess)

	// Step 6: Fuse and rank
	rankings := e.fuse(items, in, sess)
	result.Rankings = rankings
	winners := e.withPendingClaims(ctx, winnersOf(rankings, in.Assets), sess)

	// Step 7: Plan and preview
	planner, err := e.executor(sess.ID)
	if err != nil {
		return nil, err
	}
	plan, planErr := planner.Execute(ctx, winners, options.Threshold, recovery.DryRun)
	result.Plan = plan
	result.Preview = e.build(report.PhasePreview, rankings, plan, in.Assets, options, sess)
	result.PreviewPath = e.write(ctx, result.Preview)
	if planErr != nil {
		return result, planErr
	}

	if options.DryRun {
		logger.Info().
			Int("would_commit", result.Preview.Summary.WouldCommit).
			Int("pending", result.Preview.Summary.Pending).
			Msg("Dry run completed - no changes applied")
		return result, nil
	}

	// Step 8: Execute
	committer, err := e.executor(sess.ID, recovery.WithActionHook(func(a recovery.Action) {
		if a.Failed() {
			sess.Notef(session.NoteExecution, a.AssetID, "%s", a.String())
		}
		e.hooks.trigger(a)
	}))
	if err != nil {
		return nil, err
	}
	actions, execErr := committer.Execute(ctx, winners, options.Threshold, recovery.Commit)
	result.Actions = actions
	result.Final = e.build(report.PhaseFinal, rankings, actions, in.Assets, options, sess)
	result.FinalPath = e.write(ctx, result.Final)

	s := result.Final.Summary
	logger.Info().
		Int("committed", s.AutoCommitted).
		Int("already_reconciled", s.AlreadyReconciled).
		Int("pending", s.Pending).
		Int("failed", s.Failed).
		Int("rolled_back", s.RolledBack).
		Int("unmatched", s.Unmatched).
		Dur("elapsed", sess.Elapsed()).
		Msg("Reconciliation completed")

	return result, execErr
}

// fuse drops malformed evidence, fuses and ranks, and records notes for
// dropped items and assets nothing matched.
func (e *engine) fuse(items []evidence.Item, in evidence.Input, sess *session.Session) []fusion.Ranking {
	assetIDs := make(map[string]bool, len(in.Assets))
	for _, a := range in.Assets {
		assetIDs[a.ID] = true
	}
	ownerIDs := make(map[string]bool, len(in.Owners))
	for _, o := range in.Owners {
		ownerIDs[o.OwnerID] = true
	}

	rankings, dropped := fusion.Process(items, assetIDs, ownerIDs, in.Config.Weights.FusionBonus)
	for _, d := range dropped {
		sess.Notef(session.NoteInvalidEvidence, d.AssetID,
			"dropped %s evidence for owner %q with confidence %v", d.Method, d.OwnerID, d.Confidence)
	}

	matched := make(map[string]bool, len(rankings))
	for _, r := range rankings {
		matched[r.AssetID] = true
	}
	for _, a := range in.Assets {
		if !matched[a.ID] {
			sess.Notef(session.NoteNoEvidence, a.ID, "no evidence links %s to any owner", a.Key)
		}
	}
	sess.Add("assets.matched", len(rankings))
	return rankings
}

// withPendingClaims appends a winner for every claim an earlier run left
// uncommitted and that no ranking already covers. Those assets may no longer
// be discoverable, so their ledger record is the only way back to them.
func (e *engine) withPendingClaims(ctx context.Context, winners []recovery.Winner, sess *session.Session) []recovery.Winner {
	pending, err := e.ledger.PendingClaims(ctx)
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("Failed to list pending claims")
		sess.Notef(session.NoteExecution, "", "pending claims not resumed: %v", err)
		return winners
	}
	seen := make(map[string]bool, len(winners))
	for _, w := range winners {
		seen[w.Candidate.AssetID] = true
	}
	resumed := 0
	for _, rec := range pending {
		if seen[rec.AssetID] {
			continue
		}
		winners = append(winners, recovery.ClaimWinner(rec))
		resumed++
	}
	if resumed > 0 {
		logging.FromContext(ctx).Info().Int("claims", resumed).Msg("Resuming interrupted commits")
	}
	sess.Add("claims.pending", len(pending))
	return winners
}

func (e *engine) executor(runID string, opts ...recovery.Option) (*recovery.Executor, error) {
	return recovery.NewExecutor(e.store, e.ledger, append([]recovery.Option{
		recovery.WithTemplate(e.config.template),
		recovery.WithWorkers(e.config.workers),
		recovery.WithRunID(runID),
		recovery.WithDrainTimeout(e.config.drainTimeout),
	}, opts...)...)
}

func (e *engine) build(phase report.Phase, rankings []fusion.Ranking, actions []recovery.Action,
	orphans []assets.Asset, options *ReconcileOptions, sess *session.Session) *report.Report {
	methods := make([]string, len(options.Methods))
	for i, m := range options.Methods {
		methods[i] = m.String()
	}
	return report.Build(rankings, actions, orphans, report.Meta{
		RunID:       sess.ID,
		Phase:       phase,
		Mode:        options.Mode().String(),
		Threshold:   options.Threshold,
		Methods:     methods,
		StartedAt:   sess.StartedAt,
		GeneratedAt: utc.Now().Time,
	}).WithSession(sess)
}

// write persists a report when a report directory is configured. A
// failure is logged and leaves the in-memory report as the record.
func (e *engine) write(ctx context.Context, r *report.Report) string {
	if e.config.reportDir == "" {
		return ""
	}
	path, err := report.NewWriter(e.config.reportDir, report.WithFormat(e.config.reportFormat)).Write(r)
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Str("phase", string(r.Meta.Phase)).Msg("Failed to write report")
		return ""
	}
	logging.FromContext(ctx).Info().Str("path", path).Str("phase", string(r.Meta.Phase)).Msg("Report written")
	return path
}

func winnersOf(rankings []fusion.Ranking, orphans []assets.Asset) []recovery.Winner {
	byID := make(map[string]assets.Asset, len(orphans))
	for _, a := range orphans {
		byID[a.ID] = a
	}
	winners := make([]recovery.Winner, 0, len(rankings))
	for _, r := range rankings {
		winners = append(winners, recovery.Winner{Candidate: r.Winner, Asset: byID[r.AssetID]})
	}
	return winners
}
