// Package reclaim reattaches orphaned assets to the owners recorded in a
// ledger. An Engine snapshots the orphan pool and the ledger, runs the
// evidence collectors in parallel, fuses their evidence into ranked
// candidate owners, writes a preview report and, unless running dry,
// commits the confident winners and writes the final report.
//
// Example:
//
//	store, _ := assets.NewFileStore("/srv/assets")
//	l, _ := ledger.OpenSQLite("/srv/ledger.db")
//	defer l.Close()
//
//	engine, err := reclaim.New(store, l, reclaim.WithReportDir("./reports"))
//	if err != nil {
//		return err
//	}
//	result, err := engine.Reconcile(ctx, reclaim.WithDryRun(false))
package reclaim

import (
	"context"
	"fmt"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/ledger"
)

// Engine reconciles an orphan pool against a ledger.
type Engine interface {
	// Reconcile runs one reconciliation pass.
	Reconcile(ctx context.Context, opts ...ReconcileOption) (*Result, error)

	// OnCommitted registers a callback for newly committed actions
	OnCommitted(CommittedHook)

	// OnFailed registers a callback for failed and rolled back actions
	OnFailed(FailedHook)
}

// engine is the internal implementation of the Engine interface
type engine struct {
	store   assets.Store
	ledger  ledger.Ledger
	config  *config
	sampler *assets.Sampler

	// Event hooks
	hooks *hooks
}

// New creates an engine over an asset store and a ledger. The caller
// keeps ownership of both and closes them.
func New(store assets.Store, l ledger.Ledger, opts ...Option) (Engine, error) {
	if store == nil || l == nil {
		return nil, fmt.Errorf("reclaim: asset store and ledger are required")
	}
	e := &engine{
		store:  store,
		ledger: l,
		config: defaultConfig(),
		hooks:  newHooks(),
	}
	if err := e.options(opts...); err != nil {
		return nil, fmt.Errorf("applying options: %w", err)
	}
	e.sampler = assets.NewSampler(store, e.config.sampleSize)
	return e, nil
}

// OnCommitted registers a callback for newly committed actions
func (e *engine) OnCommitted(fn CommittedHook) { e.hooks.OnCommitted(fn) }

// OnFailed registers a callback for failed and rolled back actions
func (e *engine) OnFailed(fn FailedHook) { e.hooks.OnFailed(fn) }

func (e *engine) options(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(e.config); err != nil {
			return err
		}
	}
	return nil
}
