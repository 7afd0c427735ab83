package reclaim

import (
	"time"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/history"
	"github.com/agentstation/reclaim/pkg/recovery"
	"github.com/agentstation/reclaim/pkg/report"
)

// Option is a function that configures an Engine
type Option func(*config) error

// config holds the engine settings that do not change between runs.
type config struct {
	history      history.Source
	collector    evidence.Config
	layout       assets.Layout
	template     string
	workers      int
	batchSize    int
	sampleSize   int64
	drainTimeout time.Duration
	reportDir    string
	reportFormat report.Format
}

func defaultConfig() *config {
	return &config{
		collector:    evidence.DefaultConfig(),
		layout:       assets.DefaultLayout(),
		template:     constants.DefaultDestinationTemplate,
		workers:      constants.DefaultWorkers,
		batchSize:    constants.DefaultBatchSize,
		sampleSize:   constants.SampleSize,
		drainTimeout: constants.CommitDrainTimeout,
		reportFormat: report.FormatJSON,
	}
}

// WithHistory configures the historical source searched by the history collector
func WithHistory(src history.Source) Option {
	return func(c *config) error {
		c.history = src
		return nil
	}
}

// WithCollectorConfig replaces the collector settings, weights included
func WithCollectorConfig(cfg evidence.Config) Option {
	return func(c *config) error {
		if err := cfg.Weights.Validate(); err != nil {
			return err
		}
		if cfg.SizeTolerance < 0 {
			return errors.NewValidationError("size_tolerance", cfg.SizeTolerance, "must not be negative")
		}
		c.collector = cfg
		return nil
	}
}

// WithLayout configures the orphan and owner key prefixes
func WithLayout(layout assets.Layout) Option {
	return func(c *config) error {
		if layout.OrphanPrefix == "" || layout.OwnerPrefix == "" {
			return errors.NewValidationError("layout", layout, "orphan and owner prefixes are required")
		}
		c.layout = layout
		return nil
	}
}

// WithDestinationTemplate configures where claimed assets are copied
func WithDestinationTemplate(tmpl string) Option {
	return func(c *config) error {
		if err := recovery.ValidateTemplate(tmpl); err != nil {
			return err
		}
		c.template = tmpl
		return nil
	}
}

// WithWorkers configures the collector and commit worker pool size
func WithWorkers(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return errors.NewValidationError("workers", n, "must be positive")
		}
		c.workers = n
		return nil
	}
}

// WithBatchSize configures how many assets one collector invocation analyzes
func WithBatchSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return errors.NewValidationError("batch_size", n, "must be positive")
		}
		c.batchSize = n
		return nil
	}
}

// WithSampleSize configures how many leading bytes of each asset are inspected
func WithSampleSize(n int64) Option {
	return func(c *config) error {
		c.sampleSize = n
		return nil
	}
}

// WithDrainTimeout bounds in-flight commits after cancellation
func WithDrainTimeout(d time.Duration) Option {
	return func(c *config) error {
		c.drainTimeout = d
		return nil
	}
}

// WithReportDir enables report files under dir
func WithReportDir(dir string) Option {
	return func(c *config) error {
		c.reportDir = dir
		return nil
	}
}

// WithReportFormat configures the report file format
func WithReportFormat(f report.Format) Option {
	return func(c *config) error {
		c.reportFormat = f
		return nil
	}
}
