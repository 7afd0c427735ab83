package reclaim

import (
	"context"
	"errors"
	"sync"

	"github.com/agentstation/reclaim/pkg/assets"
	pkgerrors "github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/ledger"
	"github.com/agentstation/reclaim/pkg/logging"
	"github.com/agentstation/reclaim/pkg/session"
)

// ping checks the ledger and the asset store concurrently. Any failure is
// fatal: nothing has been read or mutated yet.
func (e *engine) ping(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	checks := map[string]func(context.Context) error{
		"ledger":      e.ledger.Ping,
		"asset store": func(ctx context.Context) error { return assets.Ping(ctx, e.store, e.config.layout.OrphanPrefix) },
	}

	var wg sync.WaitGroup
	var errs []error
	var errMutex sync.Mutex

	for component, check := range checks {
		wg.Add(1)
		go func(component string, check func(context.Context) error) {
			defer wg.Done()
			if err := check(ctx); err != nil {
				logger.Error().Err(err).Str("component", component).Msg("Startup check failed")
				errMutex.Lock()
				errs = append(errs, pkgerrors.NewFatalStartupError(component, err))
				errMutex.Unlock()
			}
		}(component, check)
	}

	// Wait for all goroutines to complete
	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// snapshot reads the orphan pool, the owner snapshot and the owners'
// existing objects concurrently into a collector input.
func (e *engine) snapshot(ctx context.Context, sess *session.Session) (evidence.Input, error) {
	logger := logging.FromContext(ctx)

	var (
		orphans  []assets.Asset
		owners   []ledger.OwnerRecord
		existing map[string][]assets.ObjectInfo
	)
	steps := []struct {
		component string
		run       func() error
	}{
		{"asset store", func() (err error) {
			orphans, err = assets.Discover(ctx, e.store, e.sampler, e.config.layout, sess)
			return err
		}},
		{"ledger", func() (err error) {
			owners, err = e.ledger.SnapshotOwners(ctx)
			return err
		}},
		{"asset store", func() (err error) {
			existing, err = assets.OwnerObjects(ctx, e.store, e.config.layout)
			return err
		}},
	}

	var wg sync.WaitGroup
	var errs []error
	var errMutex sync.Mutex

	for _, step := range steps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := step.run(); err != nil {
				errMutex.Lock()
				errs = append(errs, pkgerrors.NewFatalStartupError(step.component, err))
				errMutex.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return evidence.Input{}, errors.Join(errs...)
	}

	logger.Info().
		Int("orphans", len(orphans)).
		Int("owners", len(owners)).
		Int("owner_namespaces", len(existing)).
		Msg("Snapshot loaded")

	return evidence.Input{
		Assets:   orphans,
		Owners:   owners,
		Existing: existing,
		Config:   e.config.collector,
	}, nil
}
