// Package recovery turns winning candidate mappings into recovery actions:
// it copies an orphan into its owner's namespace, verifies the copy,
// records the claim in the ledger and only then removes the orphan.
//
// Every step is idempotent per asset id. A run that crashed between steps
// is resumed from the ledger's claim record on the next run, and a copy
// that already exists at the destination is verified instead of repeated.
package recovery

import (
	"fmt"
	"time"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/fusion"
)

// Status is the outcome of a recovery action.
type Status string

// Action statuses.
const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Stage is the last commit step an action reached.
type Stage string

// Commit stages, in order.
const (
	StagePolicy Stage = "policy"
	StageCheck  Stage = "check"
	StageCopy   Stage = "copy"
	StageVerify Stage = "verify"
	StageClaim  Stage = "claim"
	StageDelete Stage = "delete"
	StageCommit Stage = "commit"
	StageDone   Stage = "done"
)

// Mode selects whether the executor mutates anything.
type Mode int

// Execution modes.
const (
	DryRun Mode = iota
	Commit
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Commit {
		return "execute"
	}
	return "dry-run"
}

// Winner is a ranked winner together with the asset it maps.
type Winner struct {
	Candidate fusion.Candidate
	Asset     assets.Asset
}

// Action records what the executor did, or would do, for one asset. The
// asset id is its idempotency key.
type Action struct {
	ID          string    `json:"id" yaml:"id"`
	AssetID     string    `json:"asset_id" yaml:"asset_id"`
	OwnerID     string    `json:"owner_id" yaml:"owner_id"`
	OldLocation string    `json:"old_location" yaml:"old_location"`
	NewLocation string    `json:"new_location" yaml:"new_location"`
	Confidence  float64   `json:"confidence" yaml:"confidence"`
	Status      Status    `json:"status" yaml:"status"`
	Stage       Stage     `json:"stage" yaml:"stage"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`

	// Planned marks a dry-run action: nothing was mutated.
	Planned bool `json:"planned,omitempty" yaml:"planned,omitempty"`
	// Resumed marks an action that continued an interrupted commit.
	Resumed bool `json:"resumed,omitempty" yaml:"resumed,omitempty"`
	// AlreadyReconciled marks an asset the ledger had already committed.
	AlreadyReconciled bool `json:"already_reconciled,omitempty" yaml:"already_reconciled,omitempty"`
	// CopySkipped marks a destination that already held a verified copy.
	CopySkipped bool `json:"copy_skipped,omitempty" yaml:"copy_skipped,omitempty"`
	// ClaimAttempts counts ledger claim attempts, including conflict retries.
	ClaimAttempts int `json:"claim_attempts,omitempty" yaml:"claim_attempts,omitempty"`

	Reason    string      `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error     string      `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind errors.Kind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Err       error       `json:"-" yaml:"-"`
}

// Failed reports whether the action ended failed or rolled back.
func (a Action) Failed() bool {
	return a.Status == StatusFailed || a.Status == StatusRolledBack
}

// String returns a one-line summary.
func (a Action) String() string {
	s := fmt.Sprintf("%s -> %s [%s at %s]", a.AssetID, a.OwnerID, a.Status, a.Stage)
	if a.Error != "" {
		s += ": " + a.Error
	} else if a.Reason != "" {
		s += ": " + a.Reason
	}
	return s
}

func (a *Action) fail(stage Stage, status Status, err error) {
	a.Stage = stage
	a.Status = status
	a.Err = err
	a.Error = err.Error()
	a.ErrorKind = errors.KindOf(err)
}
