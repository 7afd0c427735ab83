package recovery

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/fusion"
	"github.com/agentstation/reclaim/pkg/ledger"
	"github.com/agentstation/reclaim/pkg/logging"
)

// maxClaimAttempts bounds ledger conflict retries for one claim.
const maxClaimAttempts = 2

// Executor applies winners to the asset store and the ledger.
type Executor struct {
	store    assets.Store
	ledger   ledger.Ledger
	template string
	workers  int
	runID    string
	drain    time.Duration
	onAction func(Action)

	assetLocks *keyedMutex
	ownerLocks *keyedMutex
}

// Option configures an Executor.
type Option func(*Executor)

// WithTemplate sets the destination key template.
func WithTemplate(tmpl string) Option {
	return func(e *Executor) {
		if tmpl != "" {
			e.template = tmpl
		}
	}
}

// WithWorkers bounds concurrent commits.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRunID tags ledger claims with the run that made them.
func WithRunID(id string) Option {
	return func(e *Executor) {
		e.runID = id
	}
}

// WithDrainTimeout bounds how long in-flight commits may continue after
// the run is canceled.
func WithDrainTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.drain = d
		}
	}
}

// WithActionHook is called once per finished action, from worker goroutines.
func WithActionHook(fn func(Action)) Option {
	return func(e *Executor) {
		e.onAction = fn
	}
}

// NewExecutor creates an executor over a store and a ledger.
func NewExecutor(store assets.Store, l ledger.Ledger, opts ...Option) (*Executor, error) {
	e := &Executor{
		store:      store,
		ledger:     l,
		template:   constants.DefaultDestinationTemplate,
		workers:    constants.DefaultWorkers,
		drain:      constants.CommitDrainTimeout,
		assetLocks: newKeyedMutex(),
		ownerLocks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := ValidateTemplate(e.template); err != nil {
		return nil, err
	}
	return e, nil
}

// Execute acts on every winner and returns one action per winner, in
// input order. Winners below the threshold, or backed only by size and
// timestamp correlation, become pending actions unless the ledger already
// holds a claim for the asset, which is resumed instead. In DryRun mode nothing
// is mutated and eligible winners become planned pending actions.
//
// Canceling ctx stops scheduling new commits; commits already in flight
// finish on a detached context bounded by the drain timeout. Winners never
// scheduled are returned pending and the returned error matches
// errors.ErrCanceled.
func (e *Executor) Execute(ctx context.Context, winners []Winner, threshold float64, mode Mode) ([]Action, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)

	// In-flight commits outlive cancellation by at most the drain timeout.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(e.drain, cancelWork)
	})
	defer stop()

	actions := make([]Action, len(winners))
	started := make([]bool, len(winners))
	queue := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(e.workers, max(len(winners), 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				a := e.execute(workCtx, winners[i], threshold, mode)
				actions[i] = a
				if e.onAction != nil {
					e.onAction(a)
				}
			}
		}()
	}

	var canceled error
feed:
	for i := range winners {
		select {
		case <-ctx.Done():
			canceled = ctx.Err()
			break feed
		default:
		}
		select {
		case queue <- i:
			started[i] = true
		case <-ctx.Done():
			canceled = ctx.Err()
			break feed
		}
	}
	close(queue)
	wg.Wait()

	if canceled == nil {
		return actions, nil
	}
	skipped := 0
	for i, w := range winners {
		if started[i] {
			continue
		}
		skipped++
		a := e.newAction(w)
		a.Status = StatusPending
		a.Stage = StagePolicy
		a.Reason = "not attempted: run canceled"
		actions[i] = a
	}
	log.Warn().Int("not_attempted", skipped).Msg("Run canceled; in-flight commits finished")
	return actions, fmt.Errorf("execute: %w: %w", errors.ErrCanceled, canceled)
}

// ClaimWinner rebuilds the winner behind a claim the ledger still holds in
// the ClaimRecorded state. Executing it resumes the interrupted commit even
// when the orphan is gone and discovery no longer reports it.
func ClaimWinner(rec ledger.ClaimRecord) Winner {
	return Winner{
		Candidate: fusion.Candidate{AssetID: rec.AssetID, OwnerID: rec.OwnerID, Confidence: rec.Confidence},
		Asset:     assets.Asset{ID: rec.AssetID, Key: rec.Source},
	}
}

func (e *Executor) newAction(w Winner) Action {
	return Action{
		ID:          uuid.NewString(),
		AssetID:     w.Candidate.AssetID,
		OwnerID:     w.Candidate.OwnerID,
		OldLocation: w.Asset.Key,
		NewLocation: Destination(e.template, w.Candidate.OwnerID, w.Asset),
		Confidence:  w.Candidate.Confidence,
		Timestamp:   utc.Now().Time,
	}
}

func (e *Executor) execute(ctx context.Context, w Winner, threshold float64, mode Mode) (a Action) {
	a = e.newAction(w)
	ctx = logging.WithAsset(ctx, a.AssetID)
	ctx = logging.WithOwner(ctx, a.OwnerID)
	log := logging.FromContext(ctx)
	defer func() {
		a.Timestamp = utc.Now().Time
		ev := log.Info()
		if a.Failed() {
			ev = log.Warn().Err(a.Err).Str("stage", string(a.Stage))
		}
		ev.Str("status", string(a.Status)).Float64("confidence", a.Confidence).Msg("Recovery action finished")
	}()

	unlockAsset := e.assetLocks.Lock(a.AssetID)
	defer unlockAsset()

	// A recorded claim is finished regardless of today's evidence.
	a.Stage = StageCheck
	rec, err := e.ledger.HasCommitted(ctx, a.AssetID)
	if err != nil {
		a.fail(StageCheck, StatusFailed, errors.WrapResource("check", "claim", a.AssetID, err))
		return a
	}
	if rec != nil {
		return e.resume(ctx, a, rec, mode)
	}

	if ok, reason := Eligible(w.Candidate, threshold); !ok {
		a.Status, a.Stage, a.Reason = StatusPending, StagePolicy, reason
		return a
	}
	if mode == DryRun {
		a.Status, a.Planned = StatusPending, true
		a.Reason = fmt.Sprintf("would copy to %s, claim for %s and remove %s", a.NewLocation, a.OwnerID, a.OldLocation)
		return a
	}

	unlockOwner := e.ownerLocks.Lock(a.OwnerID)
	defer unlockOwner()
	return e.commit(ctx, a)
}

// commit runs copy, verify, claim, delete and commit for an unclaimed asset.
func (e *Executor) commit(ctx context.Context, a Action) Action {
	a.Stage = StageCopy
	src, err := e.store.Head(ctx, a.OldLocation)
	if err != nil {
		a.fail(StageCopy, StatusFailed, err)
		return a
	}
	skipped, err := e.copyVerified(ctx, src, a.NewLocation)
	if err != nil {
		stage := StageCopy
		if errors.IsIntegrity(err) {
			stage = StageVerify
		}
		e.removeDestination(ctx, a.NewLocation)
		a.fail(stage, StatusFailed, withAsset(err, a.AssetID))
		return a
	}
	a.CopySkipped = skipped

	a.Stage = StageClaim
	if err := e.claim(ctx, &a); err != nil {
		switch {
		case errors.IsConflict(err):
			e.removeDestination(ctx, a.NewLocation)
			a.Status, a.Reason = StatusPending, "ledger conflict persisted after retry; needs manual review"
			a.Err, a.Error, a.ErrorKind = err, err.Error(), errors.KindConflict
		case errors.IsAlreadyExists(err):
			// Another run claimed the asset between the check and the claim;
			// its destination is not ours to remove unless it differs.
			if rec, _ := e.ledger.HasCommitted(ctx, a.AssetID); rec == nil || rec.Location != a.NewLocation {
				e.removeDestination(ctx, a.NewLocation)
			}
			a.Status, a.Reason = StatusPending, "asset claimed concurrently by another run"
			a.Err, a.Error, a.ErrorKind = err, err.Error(), errors.KindOf(err)
		default:
			e.removeDestination(ctx, a.NewLocation)
			a.fail(StageClaim, StatusRolledBack, err)
		}
		return a
	}
	return e.finish(ctx, a)
}

// finish removes the orphan and marks the claim committed.
func (e *Executor) finish(ctx context.Context, a Action) Action {
	a.Stage = StageDelete
	if err := e.store.Delete(ctx, a.OldLocation); err != nil && !errors.IsNotFound(err) {
		a.fail(StageDelete, StatusFailed, err)
		a.Reason = "claim recorded; orphan removal resumes on the next run"
		return a
	}
	a.Stage = StageCommit
	if err := e.ledger.Commit(ctx, a.AssetID); err != nil {
		a.fail(StageCommit, StatusFailed, err)
		a.Reason = "orphan removed; commit is recorded on the next run"
		return a
	}
	a.Stage, a.Status = StageDone, StatusCommitted
	return a
}

// resume continues from a claim the ledger already holds. The ledger is
// authoritative, so its owner and location replace the winner's.
func (e *Executor) resume(ctx context.Context, a Action, rec *ledger.ClaimRecord, mode Mode) Action {
	if rec.OwnerID != a.OwnerID {
		logging.FromContext(ctx).Info().Str("ledger_owner", rec.OwnerID).Msg("Asset already claimed by another owner")
	}
	a.OwnerID = rec.OwnerID
	if rec.Location != "" {
		a.NewLocation = rec.Location
	}
	if rec.Source != "" {
		a.OldLocation = rec.Source
	}

	if rec.State == ledger.ClaimCommitted {
		a.Stage, a.Status, a.AlreadyReconciled = StageDone, StatusCommitted, true
		a.Reason = "already reconciled"
		return a
	}
	a.Resumed = true
	if mode == DryRun {
		a.Status, a.Planned = StatusPending, true
		a.Reason = "would resume an interrupted commit"
		return a
	}

	unlockOwner := e.ownerLocks.Lock(a.OwnerID)
	defer unlockOwner()

	a.Stage = StageVerify
	src, srcErr := e.store.Head(ctx, a.OldLocation)
	switch {
	case errors.IsNotFound(srcErr):
		// The orphan is gone; the destination must hold the asset.
		if _, err := e.store.Head(ctx, a.NewLocation); err != nil {
			a.fail(StageVerify, StatusFailed, &errors.IntegrityError{
				AssetID: a.AssetID, Source: a.OldLocation, Destination: a.NewLocation,
				Field: "existence", Expected: "destination present", Actual: "missing from both locations",
			})
			return a
		}
		a.Stage = StageCommit
		if err := e.ledger.Commit(ctx, a.AssetID); err != nil {
			a.fail(StageCommit, StatusFailed, err)
			return a
		}
		a.Stage, a.Status = StageDone, StatusCommitted
		return a
	case srcErr != nil:
		a.fail(StageVerify, StatusFailed, srcErr)
		return a
	}

	skipped, err := e.copyVerified(ctx, src, a.NewLocation)
	if err != nil {
		a.fail(StageVerify, StatusFailed, withAsset(err, a.AssetID))
		a.Reason = "claim recorded but destination could not be verified; source left in place"
		return a
	}
	a.CopySkipped = skipped
	return e.finish(ctx, a)
}

// copyVerified makes dst an exact copy of src. An existing destination
// that already matches is left alone and reported as skipped.
func (e *Executor) copyVerified(ctx context.Context, src assets.ObjectInfo, dst string) (bool, error) {
	if existing, err := e.store.Head(ctx, dst); err == nil {
		if verify(src, existing) == nil {
			return true, nil
		}
	} else if !errors.IsNotFound(err) {
		return false, err
	}
	if err := e.store.Copy(ctx, src.Key, dst); err != nil {
		return false, err
	}
	copied, err := e.store.Head(ctx, dst)
	if err != nil {
		return false, err
	}
	return false, verify(src, copied)
}

// verify compares size, and ETag when both sides expose one.
func verify(src, dst assets.ObjectInfo) error {
	if src.Size != dst.Size {
		return &errors.IntegrityError{
			Source: src.Key, Destination: dst.Key, Field: "size",
			Expected: strconv.FormatInt(src.Size, 10), Actual: strconv.FormatInt(dst.Size, 10),
		}
	}
	if src.ETag != "" && dst.ETag != "" && src.ETag != dst.ETag {
		return &errors.IntegrityError{
			Source: src.Key, Destination: dst.Key, Field: "etag",
			Expected: src.ETag, Actual: dst.ETag,
		}
	}
	return nil
}

func withAsset(err error, assetID string) error {
	var ie *errors.IntegrityError
	if errors.As(err, &ie) && ie.AssetID == "" {
		ie.AssetID = assetID
	}
	return err
}

// claim records the mapping, re-reading the owner and retrying once on a
// version conflict.
func (e *Executor) claim(ctx context.Context, a *Action) error {
	var err error
	for attempt := 1; attempt <= maxClaimAttempts; attempt++ {
		a.ClaimAttempts = attempt
		var owner ledger.OwnerRecord
		owner, err = e.ledger.Owner(ctx, a.OwnerID)
		if err != nil {
			return err
		}
		_, err = e.ledger.ClaimAsset(ctx, ledger.Claim{
			OwnerID:         a.OwnerID,
			AssetID:         a.AssetID,
			Location:        a.NewLocation,
			Source:          a.OldLocation,
			Confidence:      a.Confidence,
			ExpectedVersion: owner.Version,
			RunID:           e.runID,
			ActionID:        a.ID,
		})
		if err == nil || !errors.IsConflict(err) {
			return err
		}
		logging.FromContext(ctx).Debug().Err(err).Int("attempt", attempt).Msg("Ledger conflict; re-reading owner")
	}
	return err
}

// removeDestination undoes a copy. Failures are logged; the source is
// untouched either way.
func (e *Executor) removeDestination(ctx context.Context, dst string) {
	if err := e.store.Delete(ctx, dst); err != nil && !errors.IsNotFound(err) {
		logging.FromContext(ctx).Error().Err(err).Str("destination", dst).Msg("Failed to remove copied destination")
	}
}
