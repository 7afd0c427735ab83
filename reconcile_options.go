package reclaim

import (
	"time"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/recovery"
)

// ReconcileOptions controls one reconciliation pass.
type ReconcileOptions struct {
	// DryRun computes and reports the plan without mutating anything.
	DryRun bool
	// Threshold is the minimum fused confidence for an automatic commit.
	Threshold float64
	// Methods selects the evidence collectors to run.
	Methods []evidence.Method
	// Timeout bounds the whole pass. Zero means no limit.
	Timeout time.Duration
	// RunID tags the session, the ledger claims and the report files.
	RunID string
}

// ReconcileOption configures a reconciliation pass.
type ReconcileOption func(*ReconcileOptions)

// NewReconcileOptions returns the defaults with opts applied. Runs are
// dry unless WithDryRun(false) is given.
func NewReconcileOptions(opts ...ReconcileOption) *ReconcileOptions {
	o := &ReconcileOptions{
		DryRun:    true,
		Threshold: constants.DefaultConfidenceThreshold,
		Methods:   evidence.AllMethods(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate checks the options before any work begins.
func (o *ReconcileOptions) Validate() error {
	if err := recovery.ValidateThreshold(o.Threshold); err != nil {
		return err
	}
	if len(o.Methods) == 0 {
		return errors.NewValidationError("methods", o.Methods, "at least one method is required")
	}
	if o.Timeout < 0 {
		return errors.NewValidationError("timeout", o.Timeout, "must not be negative")
	}
	return nil
}

// Mode returns the executor mode of the pass.
func (o *ReconcileOptions) Mode() recovery.Mode {
	if o.DryRun {
		return recovery.DryRun
	}
	return recovery.Commit
}

// WithDryRun selects dry-run (true) or execute (false) mode.
func WithDryRun(dryRun bool) ReconcileOption {
	return func(o *ReconcileOptions) {
		o.DryRun = dryRun
	}
}

// WithThreshold sets the auto-commit confidence threshold.
func WithThreshold(t float64) ReconcileOption {
	return func(o *ReconcileOptions) {
		o.Threshold = t
	}
}

// WithMethods selects the evidence collectors.
func WithMethods(methods ...evidence.Method) ReconcileOption {
	return func(o *ReconcileOptions) {
		o.Methods = methods
	}
}

// WithTimeout bounds the pass.
func WithTimeout(d time.Duration) ReconcileOption {
	return func(o *ReconcileOptions) {
		o.Timeout = d
	}
}

// WithRunID sets the run id instead of generating one.
func WithRunID(id string) ReconcileOption {
	return func(o *ReconcileOptions) {
		o.RunID = id
	}
}
