// Package ledger defines the authoritative store of owner records and of
// owner-to-asset claims. The reconciliation engine reads a snapshot of
// owners and writes only through ClaimAsset, which is atomic and rejects
// stale writers by comparing the owner's version.
package ledger

import (
	"context"
	"slices"
	"time"
)

// OwnerRecord is the ledger's view of one owner.
type OwnerRecord struct {
	OwnerID          string            `json:"owner_id" yaml:"owner_id"`
	DisplayName      string            `json:"display_name" yaml:"display_name"`
	Email            string            `json:"email,omitempty" yaml:"email,omitempty"`
	KnownIdentifiers []string          `json:"known_identifiers,omitempty" yaml:"known_identifiers,omitempty"`
	Assets           map[string]string `json:"assets,omitempty" yaml:"assets,omitempty"` // asset id -> location
	Version          int64             `json:"version" yaml:"version"`
}

// Clone returns a deep copy so snapshot consumers cannot alias ledger state.
func (o OwnerRecord) Clone() OwnerRecord {
	c := o
	c.KnownIdentifiers = slices.Clone(o.KnownIdentifiers)
	if o.Assets != nil {
		c.Assets = make(map[string]string, len(o.Assets))
		for k, v := range o.Assets {
			c.Assets[k] = v
		}
	}
	return c
}

// Claim asks the ledger to record that an asset now belongs to an owner.
type Claim struct {
	OwnerID         string
	AssetID         string
	Location        string // new location in the owner's namespace
	Source          string // orphan location the asset was copied from
	Confidence      float64
	ExpectedVersion int64
	RunID           string
	ActionID        string
}

// ClaimState is the lifecycle of a recorded claim.
type ClaimState string

// Claim states.
const (
	// ClaimRecorded means the mapping is durable but the orphan may still exist.
	ClaimRecorded ClaimState = "claimed"
	// ClaimCommitted means the orphan copy was removed as well.
	ClaimCommitted ClaimState = "committed"
)

// ClaimRecord is a claim as stored by the ledger.
type ClaimRecord struct {
	AssetID     string
	OwnerID     string
	Location    string
	Source      string
	Confidence  float64
	State       ClaimState
	RunID       string
	ActionID    string
	ClaimedAt   time.Time
	CommittedAt time.Time
}

// Ledger is the ledger collaborator.
//
// ClaimAsset returns an error matching errors.ErrConflict when the owner's
// version differs from Claim.ExpectedVersion, and one matching
// errors.ErrAlreadyExists when the asset is already claimed. HasCommitted
// returns nil when no claim exists for the asset. PendingClaims lists every
// claim still in the ClaimRecorded state, ordered by asset id.
type Ledger interface {
	Ping(ctx context.Context) error
	SnapshotOwners(ctx context.Context) ([]OwnerRecord, error)
	Owner(ctx context.Context, ownerID string) (OwnerRecord, error)
	ClaimAsset(ctx context.Context, c Claim) (int64, error)
	HasCommitted(ctx context.Context, assetID string) (*ClaimRecord, error)
	PendingClaims(ctx context.Context) ([]ClaimRecord, error)
	Commit(ctx context.Context, assetID string) error
	Close() error
}
