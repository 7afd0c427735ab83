package recovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/fusion"
	"github.com/agentstation/reclaim/pkg/ledger"
)

var uploaded = time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)

type fixture struct {
	store  *assets.MemoryStore
	ledger *ledger.MemoryLedger
	exec   *Executor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: assets.NewMemoryStore(),
		ledger: ledger.NewMemoryLedger(
			ledger.OwnerRecord{OwnerID: "O7", DisplayName: "Lee Park", KnownIdentifiers: []string{"VID123"}},
			ledger.OwnerRecord{OwnerID: "O2", DisplayName: "Ana Ortiz"},
			ledger.OwnerRecord{OwnerID: "O9", DisplayName: "Kim Roe"},
		),
	}
	exec, err := NewExecutor(f.store, f.ledger, append([]Option{WithRunID("run-1")}, opts...)...)
	require.NoError(t, err)
	f.exec = exec
	return f
}

// orphan stores an orphan object and returns its asset.
func (f *fixture) orphan(id, ext string, size int64) assets.Asset {
	key := "files/" + id + ext
	f.store.PutSized(key, []byte("header-"+id), size, uploaded)
	info, _ := f.store.Head(context.Background(), key)
	return assets.Asset{ID: id, Key: key, Size: size, Kind: ext[1:], ModifiedAt: uploaded, ETag: info.ETag}
}

func win(a assets.Asset, items ...evidence.Item) Winner {
	for i := range items {
		items[i].AssetID = a.ID
	}
	return Winner{Candidate: fusion.Fuse(items, fusion.DefaultBonus)[0], Asset: a}
}

func exact(owner string, conf float64) evidence.Item {
	return evidence.Item{OwnerID: owner, Method: evidence.MethodExact, Confidence: conf, Reason: "identifier found"}
}

func TestExecuteCommitsExactMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.orphan("f1", ".mp4", 1048576)

	actions, err := f.exec.Execute(ctx, []Winner{win(a, exact("O7", 0.90))}, 0.70, Commit)
	require.NoError(t, err)
	require.Len(t, actions, 1)

	act := actions[0]
	assert.Equal(t, StatusCommitted, act.Status)
	assert.Equal(t, StageDone, act.Stage)
	assert.Equal(t, "O7", act.OwnerID)
	assert.InDelta(t, 0.90, act.Confidence, 1e-9)
	assert.Equal(t, "files/f1.mp4", act.OldLocation)
	assert.Equal(t, "clients/O7/f1.mp4", act.NewLocation)
	assert.NotEmpty(t, act.ID)

	assert.False(t, f.store.Exists("files/f1.mp4"))
	assert.True(t, f.store.Exists("clients/O7/f1.mp4"))

	rec, err := f.ledger.HasCommitted(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.ClaimCommitted, rec.State)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, act.ID, rec.ActionID)

	owner, err := f.ledger.Owner(ctx, "O7")
	require.NoError(t, err)
	assert.Equal(t, "clients/O7/f1.mp4", owner.Assets["f1"])
}

func TestDryRunMutatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	winners := []Winner{
		win(f.orphan("f1", ".mp4", 1024), exact("O7", 0.90)),
		win(f.orphan("f2", ".pdf", 2048), evidence.Item{OwnerID: "O9", Method: evidence.MethodSize, Confidence: 0.25}),
	}
	storeBefore, ledgerBefore := f.store.Fingerprint(), f.ledger.Fingerprint()

	actions, err := f.exec.Execute(ctx, winners, 0.70, DryRun)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Equal(t, StatusPending, a.Status)
	}
	assert.True(t, actions[0].Planned)
	assert.Contains(t, actions[0].Reason, "clients/O7/f1.mp4")
	assert.False(t, actions[1].Planned)

	assert.Equal(t, storeBefore, f.store.Fingerprint())
	assert.Equal(t, ledgerBefore, f.ledger.Fingerprint())
	assert.Zero(t, f.store.Calls(assets.OpCopy))
	assert.Zero(t, f.store.Calls(assets.OpDelete))
}

func TestPolicyKeepsWeakWinnersPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sizeOnly := win(f.orphan("f2", ".mp4", 1150),
		evidence.Item{OwnerID: "O9", Method: evidence.MethodSize, Confidence: 0.30},
		evidence.Item{OwnerID: "O9", Method: evidence.MethodSize, Confidence: 0.28})
	weak := win(f.orphan("f4", ".mp4", 10), evidence.Item{OwnerID: "O2", Method: evidence.MethodName, Confidence: 0.60})

	// A threshold low enough that size evidence alone would clear it.
	actions, err := f.exec.Execute(ctx, []Winner{sizeOnly, weak}, 0.10, Commit)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, actions[0].Status)
	assert.Equal(t, StagePolicy, actions[0].Stage)
	assert.Contains(t, actions[0].Reason, "size")
	assert.Equal(t, StatusCommitted, actions[1].Status)

	actions, err = f.exec.Execute(ctx, []Winner{win(f.orphan("f5", ".mp4", 10), evidence.Item{OwnerID: "O2", Method: evidence.MethodName, Confidence: 0.60})}, 0.70, Commit)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, actions[0].Status)
	assert.Contains(t, actions[0].Reason, "below threshold")
	assert.True(t, f.store.Exists("files/f2.mp4"))
	assert.True(t, f.store.Exists("files/f5.mp4"))
}

func TestLedgerConflictIsRetriedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SimulateConcurrentWrites("O2", 1)

	actions, err := f.exec.Execute(ctx, []Winner{win(f.orphan("f3", ".pdf", 4096), exact("O2", 0.95))}, 0.70, Commit)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, actions[0].Status)
	assert.Equal(t, 2, actions[0].ClaimAttempts)
	assert.Equal(t, 1, f.ledger.Writes(), "exactly one ledger write")
	assert.False(t, f.store.Exists("files/f3.pdf"))
}

func TestPersistentConflictLeavesAssetPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.SimulateConcurrentWrites("O2", 2)

	actions, err := f.exec.Execute(ctx, []Winner{win(f.orphan("f3", ".pdf", 4096), exact("O2", 0.95))}, 0.70, Commit)
	require.NoError(t, err)
	act := actions[0]
	assert.Equal(t, StatusPending, act.Status)
	assert.Equal(t, errors.KindConflict, act.ErrorKind)
	assert.Equal(t, 0, f.ledger.Writes())
	assert.True(t, f.store.Exists("files/f3.pdf"))
	assert.False(t, f.store.Exists("clients/O2/f3.pdf"), "copied destination is removed")
}

func TestLedgerFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.FailClaims(fmt.Errorf("database is locked"))

	actions, err := f.exec.Execute(ctx, []Winner{win(f.orphan("f1", ".mp4", 1024), exact("O7", 0.90))}, 0.70, Commit)
	require.NoError(t, err)
	act := actions[0]
	assert.Equal(t, StatusRolledBack, act.Status)
	assert.Equal(t, StageClaim, act.Stage)
	assert.True(t, act.Failed())
	assert.True(t, f.store.Exists("files/f1.mp4"))
	assert.False(t, f.store.Exists("clients/O7/f1.mp4"))
}

func TestIntegrityMismatchFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.CorruptCopies = true
	before := f.ledger.Fingerprint()

	actions, err := f.exec.Execute(ctx, []Winner{win(f.orphan("f1", ".mp4", 1024), exact("O7", 0.90))}, 0.70, Commit)
	require.NoError(t, err)
	act := actions[0]
	assert.Equal(t, StatusFailed, act.Status)
	assert.Equal(t, StageVerify, act.Stage)
	assert.Equal(t, errors.KindIntegrity, act.ErrorKind)
	assert.True(t, errors.IsIntegrity(act.Err))
	assert.Contains(t, act.Error, "f1")

	assert.True(t, f.store.Exists("files/f1.mp4"), "source untouched")
	assert.False(t, f.store.Exists("clients/O7/f1.mp4"))
	assert.Equal(t, before, f.ledger.Fingerprint())
}

func TestExecuteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	winners := []Winner{win(f.orphan("f1", ".mp4", 1024), exact("O7", 0.90))}

	first, err := f.exec.Execute(ctx, winners, 0.70, Commit)
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, first[0].Status)

	second, err := f.exec.Execute(ctx, winners, 0.70, Commit)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, second[0].Status)
	assert.True(t, second[0].AlreadyReconciled)
	assert.Equal(t, 1, f.ledger.Writes())
	assert.Equal(t, []string{"clients/O7/f1.mp4"}, f.store.Keys())
}

func TestResumeAfterFailedDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	winners := []Winner{win(f.orphan("f1", ".mp4", 1024), exact("O7", 0.90))}
	f.store.FailNext(assets.OpDelete, "files/f1.mp4", 1,
		errors.NewTransientStoreError("delete", "files/f1.mp4", 4, fmt.Errorf("503 slow down")))

	first, err := f.exec.Execute(ctx, winners, 0.70, Commit)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, first[0].Status)
	assert.Equal(t, StageDelete, first[0].Stage)
	assert.Equal(t, errors.KindTransient, first[0].ErrorKind)
	rec, err := f.ledger.HasCommitted(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.ClaimRecorded, rec.State)

	copies := f.store.Calls(assets.OpCopy)
	second, err := f.exec.Execute(ctx, winners, 0.70, Commit)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, second[0].Status)
	assert.True(t, second[0].Resumed)
	assert.True(t, second[0].CopySkipped)
	assert.Equal(t, copies, f.store.Calls(assets.OpCopy), "no second copy")
	assert.Equal(t, 1, f.ledger.Writes())
	assert.False(t, f.store.Exists("files/f1.mp4"))
}

func TestResumeWhenOrphanAlreadyRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.orphan("f1", ".mp4", 1024)
	f.ledger.FailCommits(fmt.Errorf("ledger connection reset"))

	actions, err := f.exec.Execute(ctx, []Winner{win(a, exact("O7", 0.90))}, 0.70, Commit)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, actions[0].Status)
	require.Equal(t, StageCommit, actions[0].Stage)
	require.False(t, f.store.Exists(a.Key))

	// Discovery no longer sees the orphan; the ledger claim is all that is left.
	pending, err := f.ledger.PendingClaims(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	w := ClaimWinner(pending[0])
	assert.Equal(t, a.Key, w.Asset.Key)

	actions, err = f.exec.Execute(ctx, []Winner{w}, 0.70, Commit)
	require.NoError(t, err)
	act := actions[0]
	assert.Equal(t, StatusCommitted, act.Status)
	assert.True(t, act.Resumed)
	assert.Equal(t, "O7", act.OwnerID)
	assert.Equal(t, "clients/O7/f1.mp4", act.NewLocation)

	rec, err := f.ledger.HasCommitted(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ClaimCommitted, rec.State)
	assert.Equal(t, 1, f.ledger.Writes())
}

func TestRecordedClaimResumesBelowThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.orphan("f1", ".mp4", 1024)
	f.store.FailNext(assets.OpDelete, a.Key, 1, fmt.Errorf("throttled"))

	actions, err := f.exec.Execute(ctx, []Winner{win(a, exact("O7", 0.90))}, 0.70, Commit)
	require.NoError(t, err)
	require.Equal(t, StageDelete, actions[0].Stage)

	// Today's evidence is weaker, but the claim is already durable.
	actions, err = f.exec.Execute(ctx, []Winner{win(a, exact("O7", 0.40))}, 0.70, Commit)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, actions[0].Status)
	assert.True(t, actions[0].Resumed)
	assert.False(t, f.store.Exists(a.Key))
}

func TestExistingVerifiedCopyIsNotRepeated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.orphan("f1", ".mp4", 1024)
	require.NoError(t, f.store.Copy(ctx, a.Key, "clients/O7/f1.mp4"))
	copies := f.store.Calls(assets.OpCopy)

	actions, err := f.exec.Execute(ctx, []Winner{win(a, exact("O7", 0.90))}, 0.70, Commit)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, actions[0].Status)
	assert.True(t, actions[0].CopySkipped)
	assert.Equal(t, copies, f.store.Calls(assets.OpCopy))
}

func TestCanceledRunSchedulesNothing(t *testing.T) {
	f := newFixture(t)
	winners := []Winner{win(f.orphan("f1", ".mp4", 1024), exact("O7", 0.90))}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	actions, err := f.exec.Execute(ctx, winners, 0.70, Commit)
	require.Error(t, err)
	assert.True(t, errors.IsCanceled(err))
	require.Len(t, actions, 1)
	assert.Equal(t, StatusPending, actions[0].Status)
	assert.Contains(t, actions[0].Reason, "canceled")
	assert.True(t, f.store.Exists("files/f1.mp4"))
}

func TestConcurrentCommitsForOneOwner(t *testing.T) {
	ctx := context.Background()
	var (
		mu   sync.Mutex
		seen []string
	)
	f := newFixture(t, WithWorkers(4), WithActionHook(func(a Action) {
		mu.Lock()
		seen = append(seen, a.AssetID)
		mu.Unlock()
	}))
	var winners []Winner
	for i := 0; i < 20; i++ {
		winners = append(winners, win(f.orphan(fmt.Sprintf("a%02d", i), ".bin", 64), exact("O7", 0.90)))
	}

	actions, err := f.exec.Execute(ctx, winners, 0.70, Commit)
	require.NoError(t, err)
	for i, a := range actions {
		assert.Equal(t, winners[i].Candidate.AssetID, a.AssetID, "actions keep input order")
		assert.Equal(t, StatusCommitted, a.Status)
		assert.Equal(t, 1, a.ClaimAttempts)
	}
	assert.Len(t, seen, 20)
	assert.Equal(t, 20, f.ledger.Writes())

	owner, err := f.ledger.Owner(ctx, "O7")
	require.NoError(t, err)
	assert.Len(t, owner.Assets, 20)
	assert.Zero(t, f.exec.assetLocks.size())
	assert.Zero(t, f.exec.ownerLocks.size())
}

func TestDestination(t *testing.T) {
	a := assets.Asset{ID: "f1", Key: "files/f1.MP4", Kind: "mp4"}
	assert.Equal(t, "clients/O7/f1.mp4", Destination("", "O7", a))
	assert.Equal(t, "owners/O7/mp4/f1", Destination("owners/{owner_id}/{kind}/{asset_id}", "O7", a))

	assert.NoError(t, ValidateTemplate("clients/{owner_id}/{asset_id}{ext}"))
	assert.Error(t, ValidateTemplate("clients/{asset_id}"))
	assert.Error(t, ValidateTemplate("clients/{owner_id}"))
	assert.Error(t, ValidateTemplate("../{owner_id}/{asset_id}"))

	_, err := NewExecutor(assets.NewMemoryStore(), ledger.NewMemoryLedger(), WithTemplate("flat/{asset_id}"))
	assert.True(t, errors.IsValidationError(err))

	assert.Error(t, ValidateThreshold(0))
	assert.Error(t, ValidateThreshold(1.5))
	assert.NoError(t, ValidateThreshold(0.7))
}
