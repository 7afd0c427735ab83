package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/agentstation/utc"

	"github.com/agentstation/reclaim/pkg/errors"
)

// MemoryLedger is an in-process Ledger. Besides tests it backs dry runs
// against exported owner snapshots.
type MemoryLedger struct {
	mu        sync.Mutex
	owners    map[string]OwnerRecord
	claims    map[string]ClaimRecord
	writes    int
	conflicts map[string]int
	claimErr  error
	commitErr []error
	pingErr   error
}

// NewMemoryLedger creates a ledger holding the given owners.
func NewMemoryLedger(owners ...OwnerRecord) *MemoryLedger {
	l := &MemoryLedger{
		owners:    make(map[string]OwnerRecord),
		claims:    make(map[string]ClaimRecord),
		conflicts: make(map[string]int),
	}
	for _, o := range owners {
		l.UpsertOwner(o)
	}
	return l
}

// UpsertOwner inserts or replaces an owner and bumps its version.
func (l *MemoryLedger) UpsertOwner(o OwnerRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o = o.Clone()
	if o.Assets == nil {
		o.Assets = make(map[string]string)
	}
	if prev, ok := l.owners[o.OwnerID]; ok {
		o.Version = prev.Version + 1
	} else if o.Version == 0 {
		o.Version = 1
	}
	l.owners[o.OwnerID] = o
}

// SimulateConcurrentWrites makes the next n claims against ownerID observe
// a version bump by another writer between read and write.
func (l *MemoryLedger) SimulateConcurrentWrites(ownerID string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conflicts[ownerID] += n
}

// FailClaims makes every subsequent claim fail with err. Nil clears it.
func (l *MemoryLedger) FailClaims(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claimErr = err
}

// FailCommits makes the next len(errs) commits fail with errs in order.
func (l *MemoryLedger) FailCommits(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commitErr = append(l.commitErr, errs...)
}

// FailPing makes Ping return err.
func (l *MemoryLedger) FailPing(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pingErr = err
}

// Writes returns the number of claims that were durably recorded.
func (l *MemoryLedger) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

// Fingerprint hashes owner versions, owner assets and claims.
func (l *MemoryLedger) Fingerprint() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := sha256.New()
	ids := make([]string, 0, len(l.owners))
	for id := range l.owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		o := l.owners[id]
		fmt.Fprintf(h, "owner %s v%d\n", id, o.Version)
		assetIDs := make([]string, 0, len(o.Assets))
		for a := range o.Assets {
			assetIDs = append(assetIDs, a)
		}
		sort.Strings(assetIDs)
		for _, a := range assetIDs {
			fmt.Fprintf(h, "  %s=%s\n", a, o.Assets[a])
		}
	}
	claimIDs := make([]string, 0, len(l.claims))
	for a := range l.claims {
		claimIDs = append(claimIDs, a)
	}
	sort.Strings(claimIDs)
	for _, a := range claimIDs {
		c := l.claims[a]
		fmt.Fprintf(h, "claim %s %s %s\n", a, c.OwnerID, c.State)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Ping implements Ledger.
func (l *MemoryLedger) Ping(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pingErr
}

// SnapshotOwners implements Ledger.
func (l *MemoryLedger) SnapshotOwners(ctx context.Context) ([]OwnerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]OwnerRecord, 0, len(l.owners))
	for _, o := range l.owners {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

// Owner implements Ledger.
func (l *MemoryLedger) Owner(ctx context.Context, ownerID string) (OwnerRecord, error) {
	if err := ctx.Err(); err != nil {
		return OwnerRecord{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.owners[ownerID]
	if !ok {
		return OwnerRecord{}, errors.NewNotFoundError("owner", ownerID)
	}
	return o.Clone(), nil
}

// ClaimAsset implements Ledger.
func (l *MemoryLedger) ClaimAsset(ctx context.Context, c Claim) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.claimErr != nil {
		return 0, l.claimErr
	}
	o, ok := l.owners[c.OwnerID]
	if !ok {
		return 0, errors.NewNotFoundError("owner", c.OwnerID)
	}
	if n := l.conflicts[c.OwnerID]; n > 0 {
		l.conflicts[c.OwnerID] = n - 1
		o.Version++
		l.owners[c.OwnerID] = o
	}
	if o.Version != c.ExpectedVersion {
		return 0, errors.NewLedgerConflictError(c.OwnerID, c.AssetID, c.ExpectedVersion, o.Version)
	}
	if existing, ok := l.claims[c.AssetID]; ok {
		return 0, fmt.Errorf("asset %s already claimed by owner %s: %w", c.AssetID, existing.OwnerID, errors.ErrAlreadyExists)
	}

	o.Assets[c.AssetID] = c.Location
	o.Version++
	l.owners[c.OwnerID] = o
	l.claims[c.AssetID] = ClaimRecord{
		AssetID:    c.AssetID,
		OwnerID:    c.OwnerID,
		Location:   c.Location,
		Source:     c.Source,
		Confidence: c.Confidence,
		State:      ClaimRecorded,
		RunID:      c.RunID,
		ActionID:   c.ActionID,
		ClaimedAt:  utc.Now().Time,
	}
	l.writes++
	return o.Version, nil
}

// HasCommitted implements Ledger.
func (l *MemoryLedger) HasCommitted(ctx context.Context, assetID string) (*ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.claims[assetID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// PendingClaims implements Ledger.
func (l *MemoryLedger) PendingClaims(ctx context.Context) ([]ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ClaimRecord
	for _, c := range l.claims {
		if c.State == ClaimRecorded {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

// Commit implements Ledger.
func (l *MemoryLedger) Commit(ctx context.Context, assetID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.commitErr) > 0 {
		err := l.commitErr[0]
		l.commitErr = l.commitErr[1:]
		return err
	}
	c, ok := l.claims[assetID]
	if !ok {
		return errors.NewNotFoundError("claim", assetID)
	}
	if c.State != ClaimCommitted {
		c.State = ClaimCommitted
		c.CommittedAt = utc.Now().Time
		l.claims[assetID] = c
	}
	return nil
}

// Close implements Ledger.
func (l *MemoryLedger) Close() error { return nil }
