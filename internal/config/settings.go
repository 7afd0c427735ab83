// Package config maps viper keys onto the settings a reconciliation run
// needs. Keys use snake_case; nested keys are dotted (weights.exact_single)
// and map to environment variables with underscores (WEIGHTS_EXACT_SINGLE).
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/report"
)

// Viper keys.
const (
	KeyStore               = "store"
	KeyLedger              = "ledger"
	KeyHistoryGit          = "history.git"
	KeyHistoryLogs         = "history.logs"
	KeyHistoryManifests    = "history.manifests"
	KeyThreshold           = "confidence_threshold"
	KeyMethods             = "methods"
	KeyWorkers             = "workers"
	KeyBatchSize           = "batch_size"
	KeyTimeout             = "timeout"
	KeyCollectorTimeout    = "collector_timeout"
	KeySizeTolerance       = "size_tolerance"
	KeyDestinationTemplate = "destination_template"
	KeyReportPath          = "report_path"
	KeyReportFormat        = "report_format"
	KeyRateLimit           = "rate_limit"
	KeyRateBurst           = "rate_burst"
)

// History lists the historical sources to mine.
type History struct {
	Git       []string `mapstructure:"git"`
	Logs      []string `mapstructure:"logs"`
	Manifests []string `mapstructure:"manifests"`
}

// Settings is the resolved run configuration.
type Settings struct {
	Store               string           `mapstructure:"store"`
	Ledger              string           `mapstructure:"ledger"`
	History             History          `mapstructure:"history"`
	Threshold           float64          `mapstructure:"confidence_threshold"`
	Methods             []string         `mapstructure:"methods"`
	Workers             int              `mapstructure:"workers"`
	BatchSize           int              `mapstructure:"batch_size"`
	Timeout             time.Duration    `mapstructure:"timeout"`
	CollectorTimeout    time.Duration    `mapstructure:"collector_timeout"`
	SizeTolerance       float64          `mapstructure:"size_tolerance"`
	DestinationTemplate string           `mapstructure:"destination_template"`
	ReportPath          string           `mapstructure:"report_path"`
	ReportFormat        string           `mapstructure:"report_format"`
	RateLimit           float64          `mapstructure:"rate_limit"`
	RateBurst           int              `mapstructure:"rate_burst"`
	Weights             evidence.Weights `mapstructure:"weights"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up for nested keys too.
func SetDefaults(v *viper.Viper) {
	collector := evidence.DefaultConfig()

	v.SetDefault(KeyHistoryGit, []string{})
	v.SetDefault(KeyHistoryLogs, []string{})
	v.SetDefault(KeyHistoryManifests, []string{})
	v.SetDefault(KeyThreshold, constants.DefaultConfidenceThreshold)
	v.SetDefault(KeyMethods, methodNames(evidence.AllMethods()))
	v.SetDefault(KeyWorkers, constants.DefaultWorkers)
	v.SetDefault(KeyBatchSize, constants.DefaultBatchSize)
	v.SetDefault(KeyTimeout, constants.CommandTimeout)
	v.SetDefault(KeyCollectorTimeout, collector.Timeout)
	v.SetDefault(KeySizeTolerance, collector.SizeTolerance)
	v.SetDefault(KeyDestinationTemplate, constants.DefaultDestinationTemplate)
	v.SetDefault(KeyReportPath, constants.DefaultReportDir)
	v.SetDefault(KeyReportFormat, report.FormatJSON.String())
	v.SetDefault(KeyRateLimit, float64(constants.StoreRateLimit))
	v.SetDefault(KeyRateBurst, constants.StoreRateBurst)

	for key, value := range weightDefaults(collector.Weights) {
		v.SetDefault("weights."+key, value)
	}
}

// Load unmarshals and validates the settings held by v.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.NewConfigError("settings", "failed to decode", err)
	}
	s.Methods = splitList(s.Methods)
	s.History.Git = splitList(s.History.Git)
	s.History.Logs = splitList(s.History.Logs)
	s.History.Manifests = splitList(s.History.Manifests)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks values that cannot be checked by their consumers alone.
func (s *Settings) Validate() error {
	switch {
	case s.Threshold < 0 || s.Threshold > 1:
		return errors.NewValidationError(KeyThreshold, s.Threshold, "must be within [0, 1]")
	case s.Workers <= 0:
		return errors.NewValidationError(KeyWorkers, s.Workers, "must be positive")
	case s.BatchSize <= 0:
		return errors.NewValidationError(KeyBatchSize, s.BatchSize, "must be positive")
	case s.Timeout < 0:
		return errors.NewValidationError(KeyTimeout, s.Timeout, "must not be negative")
	case s.RateLimit < 0:
		return errors.NewValidationError(KeyRateLimit, s.RateLimit, "must not be negative")
	}
	if _, err := s.ParsedMethods(); err != nil {
		return err
	}
	if _, err := report.ParseFormat(s.ReportFormat); err != nil {
		return err
	}
	return s.Weights.Validate()
}

// ParsedMethods returns the selected evidence methods.
func (s *Settings) ParsedMethods() ([]evidence.Method, error) {
	return evidence.ParseMethods(s.Methods)
}

// Collector returns the collector settings with the configured weights.
func (s *Settings) Collector() evidence.Config {
	cfg := evidence.DefaultConfig()
	cfg.Weights = s.Weights
	cfg.SizeTolerance = s.SizeTolerance
	if s.CollectorTimeout > 0 {
		cfg.Timeout = s.CollectorTimeout
	}
	return cfg
}

// HasHistory reports whether any historical source is configured.
func (h History) HasHistory() bool {
	return len(h.Git)+len(h.Logs)+len(h.Manifests) > 0
}

func methodNames(methods []evidence.Method) []string {
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = m.String()
	}
	return names
}

// weightDefaults flattens the weights into their mapstructure keys.
func weightDefaults(w evidence.Weights) map[string]float64 {
	out := make(map[string]float64)
	v := reflect.ValueOf(w)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("mapstructure"); tag != "" {
			out[tag] = v.Field(i).Float()
		}
	}
	return out
}

// splitList accepts both repeated values and comma separated ones, which is
// how list values arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
