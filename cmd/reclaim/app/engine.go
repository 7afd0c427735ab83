package app

import (
	"os"

	"github.com/agentstation/reclaim"
	"github.com/agentstation/reclaim/internal/config"
	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/history"
	"github.com/agentstation/reclaim/pkg/ledger"
	"github.com/agentstation/reclaim/pkg/report"
)

// Engine opens the collaborators named by the settings and returns an
// engine over them. The ledger is released on Shutdown.
func (a *App) Engine(s *config.Settings) (reclaim.Engine, error) {
	store, err := a.openStore(s)
	if err != nil {
		return nil, err
	}
	l, err := a.openLedger(s)
	if err != nil {
		return nil, err
	}
	src, err := openHistory(s.History)
	if err != nil {
		return nil, err
	}
	format, err := report.ParseFormat(s.ReportFormat)
	if err != nil {
		return nil, err
	}

	opts := []reclaim.Option{
		reclaim.WithCollectorConfig(s.Collector()),
		reclaim.WithDestinationTemplate(s.DestinationTemplate),
		reclaim.WithWorkers(s.Workers),
		reclaim.WithBatchSize(s.BatchSize),
		reclaim.WithReportDir(s.ReportPath),
		reclaim.WithReportFormat(format),
	}
	if src != nil {
		opts = append(opts, reclaim.WithHistory(src))
	}
	return reclaim.New(store, l, opts...)
}

func (a *App) openStore(s *config.Settings) (assets.Store, error) {
	if s.Store == "" {
		return nil, errors.NewValidationError(config.KeyStore, s.Store, "asset store directory is required (--store)")
	}
	fs, err := assets.NewFileStore(s.Store)
	if err != nil {
		return nil, errors.NewFatalStartupError("asset store", err)
	}

	var opts []assets.RetryOption
	if s.RateLimit > 0 {
		opts = append(opts, assets.WithRateLimit(s.RateLimit, max(s.RateBurst, 1)))
	}
	return assets.NewRetryingStore(fs, opts...), nil
}

// openLedger opens an existing ledger database. A missing file is not
// created: an empty ledger would leave every asset unmatched.
func (a *App) openLedger(s *config.Settings) (ledger.Ledger, error) {
	if s.Ledger == "" {
		return nil, errors.NewValidationError(config.KeyLedger, s.Ledger, "ledger database is required (--ledger)")
	}
	if _, err := os.Stat(s.Ledger); err != nil {
		return nil, errors.NewFatalStartupError("ledger", err)
	}
	l, err := ledger.OpenSQLite(s.Ledger)
	if err != nil {
		return nil, errors.NewFatalStartupError("ledger", err)
	}
	a.track(l)
	return l, nil
}

// openHistory combines the configured historical sources. It returns nil
// when none is configured.
func openHistory(h config.History) (history.Source, error) {
	if !h.HasHistory() {
		return nil, nil
	}

	var sources []history.Source
	for _, path := range h.Manifests {
		sources = append(sources, history.NewManifestDir(path))
	}
	for _, path := range h.Git {
		sources = append(sources, history.NewGitLog(path))
	}
	for _, path := range h.Logs {
		src, err := history.NewLogDir(path)
		if err != nil {
			return nil, errors.NewConfigError("history", "invalid log source "+path, err)
		}
		sources = append(sources, src)
	}
	return history.NewMulti(sources...), nil
}
